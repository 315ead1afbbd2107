package dice

import "go.uber.org/zap"

// LoggedSource wraps a Source and logs every draw at debug level, giving the
// table an audit trail for disputed rolls.
type LoggedSource struct {
	src    Source
	logger *zap.Logger
}

// NewLoggedSource creates a LoggedSource that draws from src and logs each
// draw to logger.
//
// Precondition: src and logger must be non-nil.
func NewLoggedSource(src Source, logger *zap.Logger) *LoggedSource {
	return &LoggedSource{src: src, logger: logger}
}

// Intn draws from the underlying source and logs the bound and result.
//
// Precondition: n > 0.
func (s *LoggedSource) Intn(n int) int {
	v := s.src.Intn(n)
	s.logger.Debug("random draw",
		zap.Int("bound", n),
		zap.Int("value", v),
	)
	return v
}
