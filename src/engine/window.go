package engine

import "time"

// decisionWindow scales the batch-drain window with queue depth. A depth of
// one means no competition for capital and no reason to wait; at DeepDepth
// and beyond the full window applies.
func decisionWindow(depth int64, cfg Config) time.Duration {
	if depth <= 1 || cfg.DeepDepth <= 1 {
		return 0
	}
	if depth >= int64(cfg.DeepDepth) {
		return cfg.MaxDecisionWindow
	}
	frac := float64(depth-1) / float64(cfg.DeepDepth-1)
	return time.Duration(frac * float64(cfg.MaxDecisionWindow))
}
