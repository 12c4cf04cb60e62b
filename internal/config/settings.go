package config

import "time"

// Settings is the "settings" section of the configuration file.
// Zero values leave the corresponding Config field untouched; booleans
// are pointers so an explicit false can be told apart from "unset".
type Settings struct {
	WorkerNum           int               `yaml:"worker_num,omitempty"`
	MaxDownloads        int               `yaml:"max_download_num,omitempty"`
	MaxWorkers          int               `yaml:"max_coroutine_amount,omitempty"`
	WorkerIdleTime      time.Duration     `yaml:"max_coroutine_idle_time,omitempty"`
	MostStop            *bool             `yaml:"most_stop,omitempty"`
	Delay               *time.Duration    `yaml:"delay,omitempty"`
	Timeout             *time.Duration    `yaml:"timeout,omitempty"`
	KeepAlive           *bool             `yaml:"keep_alive,omitempty"`
	FollowRedirects     *bool             `yaml:"follow_redirects,omitempty"`
	MaxRedirects        *int              `yaml:"max_redirects,omitempty"`
	Headers             map[string]string `yaml:"headers,omitempty"`
	Limits              []Limit           `yaml:"limits,omitempty"`
	HostRate            float64           `yaml:"host_rate,omitempty"`
	HostBurst           int               `yaml:"host_burst,omitempty"`
	Retry               *Retry            `yaml:"retry,omitempty"`
	InitialCapacity     int               `yaml:"initial_capacity,omitempty"`
	ErrorRate           float64           `yaml:"error_rate,omitempty"`
	LongSave            *bool             `yaml:"long_save,omitempty"`
	JobDir              string            `yaml:"job_dir,omitempty"`
	Scheduler           string            `yaml:"scheduler,omitempty"`
	Redis               RedisSettings     `yaml:"redis,omitempty"`
	ItemCounterUnit     time.Duration     `yaml:"item_counter_unit,omitempty"`
	ResponseCounterUnit time.Duration     `yaml:"response_counter_unit,omitempty"`
	MaxBodySize         int64             `yaml:"max_body_size,omitempty"`
	ObeyRobots          *bool             `yaml:"obey_robots,omitempty"`
	InsecureTLS         *bool             `yaml:"insecure_tls,omitempty"`
	Proxy               string            `yaml:"proxy,omitempty"`
	Tor                 *bool             `yaml:"tor,omitempty"`
	TorStartupTimeout   time.Duration     `yaml:"tor_startup_timeout,omitempty"`
	DBDir               string            `yaml:"db_dir,omitempty"`
	SaveItems           *bool             `yaml:"save_items,omitempty"`
}

// RedisSettings configures the redis scheduler.
type RedisSettings struct {
	Addr   string `yaml:"addr,omitempty"`
	DB     int    `yaml:"db,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

// Apply overlays the file settings onto cfg.
// Headers are merged key by key; every other field replaces the default.
func (cf *File) Apply(cfg *Config) {
	s := cf.Settings

	setInt(&cfg.WorkerNum, s.WorkerNum)
	setInt(&cfg.MaxDownloads, s.MaxDownloads)
	setInt(&cfg.MaxWorkers, s.MaxWorkers)
	setInt(&cfg.InitialCapacity, s.InitialCapacity)
	setInt(&cfg.HostBurst, s.HostBurst)
	setInt(&cfg.RedisDB, s.Redis.DB)
	setDuration(&cfg.WorkerIdleTime, s.WorkerIdleTime)
	setDuration(&cfg.ItemCounterUnit, s.ItemCounterUnit)
	setDuration(&cfg.ResponseCounterUnit, s.ResponseCounterUnit)
	setDuration(&cfg.TorStartupTimeout, s.TorStartupTimeout)
	setString(&cfg.JobDir, s.JobDir)
	setString(&cfg.Scheduler, s.Scheduler)
	setString(&cfg.RedisAddr, s.Redis.Addr)
	setString(&cfg.RedisPrefix, s.Redis.Prefix)
	setString(&cfg.Proxy, s.Proxy)
	setString(&cfg.DBDir, s.DBDir)
	setBool(&cfg.ReleaseDrainedWorkers, s.MostStop)
	setBool(&cfg.KeepAlive, s.KeepAlive)
	setBool(&cfg.FollowRedirects, s.FollowRedirects)
	setBool(&cfg.Persist, s.LongSave)
	setBool(&cfg.ObeyRobots, s.ObeyRobots)
	setBool(&cfg.InsecureTLS, s.InsecureTLS)
	setBool(&cfg.SaveItems, s.SaveItems)
	setBool(&cfg.Tor, s.Tor)

	if s.Delay != nil {
		cfg.Delay = *s.Delay
	}
	if s.Timeout != nil {
		cfg.Timeout = *s.Timeout
	}
	if s.MaxRedirects != nil {
		cfg.MaxRedirects = *s.MaxRedirects
	}
	if s.ErrorRate != 0 {
		cfg.ErrorRate = s.ErrorRate
	}
	if s.HostRate != 0 {
		cfg.HostRate = s.HostRate
	}
	if s.MaxBodySize != 0 {
		cfg.MaxBodySize = s.MaxBodySize
	}
	if len(s.Limits) > 0 {
		cfg.Limits = append([]Limit(nil), s.Limits...)
	}
	if s.Retry != nil {
		cfg.Retry = *s.Retry
	}
	if len(s.Headers) > 0 {
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string, len(s.Headers))
		}
		for k, v := range s.Headers {
			cfg.Headers[k] = v
		}
	}
	cfg.SiteConfigs = cf
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
