package config

// Defaults applied by ApplyDefaults.
const (
	DefaultTimeout           = "30s"
	DefaultUserAgent         = "shiftload/1.0"
	DefaultGracefulStop      = "30s"
	DefaultThinkTimeMin      = "1s"
	DefaultThinkTimeMax      = "3s"
	DefaultExecutor          = "constant-vus"
	DefaultBatchSize         = 100
	DefaultConcurrentBatches = 1
	DefaultPageSize          = 50
	DefaultFetchPageSize     = 100
	DefaultFetchLimit        = 6500

	// Batch bodies carry up to hundreds of items, so their slow threshold
	// sits well above the list endpoint's.
	DefaultBatchSlowThreshold = "2s"
	DefaultListSlowThreshold  = "500ms"
)

// ApplyDefaults fills unset fields. Scenario settings inherit from
// Settings before falling back to the package defaults.
func ApplyDefaults(cfg *TestConfig) {
	s := &cfg.Settings
	if s.Timeout == "" {
		s.Timeout = DefaultTimeout
	}
	if s.UserAgent == "" {
		s.UserAgent = DefaultUserAgent
	}
	if s.GracefulStop == "" {
		s.GracefulStop = DefaultGracefulStop
	}
	if s.ThinkTime == nil {
		s.ThinkTime = &ThinkTimeConfig{Min: DefaultThinkTimeMin, Max: DefaultThinkTimeMax}
	}

	applyPoolDefaults(cfg.Pool)

	for _, sc := range cfg.Scenarios {
		if sc == nil {
			continue
		}
		applyScenarioDefaults(sc, s)
	}
}

func applyScenarioDefaults(sc *ScenarioConfig, s *Settings) {
	if sc.Executor == "" {
		sc.Executor = DefaultExecutor
	}

	if sc.RatePerMinute > 0 && sc.Rate == 0 {
		sc.Rate = sc.RatePerMinute
		if sc.TimeUnit == "" {
			sc.TimeUnit = "1m"
		}
	}

	if sc.IsBatch() {
		if sc.BatchSize == 0 {
			sc.BatchSize = DefaultBatchSize
		}
		if sc.ConcurrentBatches == 0 {
			sc.ConcurrentBatches = DefaultConcurrentBatches
		}
	} else if sc.PageSize == 0 {
		sc.PageSize = DefaultPageSize
	}

	if sc.SlowThreshold == "" {
		switch {
		case s.SlowThreshold != "":
			sc.SlowThreshold = s.SlowThreshold
		case sc.Operation == OperationList:
			sc.SlowThreshold = DefaultListSlowThreshold
		default:
			sc.SlowThreshold = DefaultBatchSlowThreshold
		}
	}

	if sc.ThinkTime == nil && s.ThinkTime != nil {
		tt := *s.ThinkTime
		sc.ThinkTime = &tt
	}
	if sc.GracefulStop == "" {
		sc.GracefulStop = s.GracefulStop
	}
	if sc.Timeout == "" {
		sc.Timeout = s.Timeout
	}

	applyPoolDefaults(sc.Pool)
}

func applyPoolDefaults(p *PoolConfig) {
	if p == nil || p.Fetch == nil {
		return
	}
	if p.Fetch.PageSize == 0 {
		p.Fetch.PageSize = DefaultFetchPageSize
	}
	if p.Fetch.Limit == 0 {
		p.Fetch.Limit = DefaultFetchLimit
	}
}
