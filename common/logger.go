package common

import "go.uber.org/zap"

// Log is the logger used by every package in the module. It discards all
// output until replaced, e.g. common.Log = zap.NewExample().Sugar().
var Log *zap.SugaredLogger = zap.NewNop().Sugar()
