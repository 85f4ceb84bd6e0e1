package main

import (
	"fmt"
	"time"

	"github.com/maxpert/engage/cfg"
)

type Config struct {
	// Engine
	Store     string
	DataDir   string
	WriteMode string
	Workers   int
	Capacity  int
	Notify    bool

	// Run options
	Workload   string
	Operations int
	Duration   time.Duration
	Threads    int

	// Population
	Users int
	Posts int

	// Workload percentages (-1 means use workload default)
	LikePct     int
	UnlikePct   int
	CommentPct  int
	FollowPct   int
	FavoritePct int
	ViewPct     int

	// Verify options
	Verify        bool
	VerifySamples int
}

func (c *Config) Validate() error {
	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}

	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}

	if c.Capacity < 1 || c.Capacity&(c.Capacity-1) != 0 {
		return fmt.Errorf("capacity must be a power of two, got %d", c.Capacity)
	}

	if c.Operations < 0 {
		return fmt.Errorf("operations must be non-negative")
	}

	if c.Users < 2 {
		return fmt.Errorf("users must be at least 2")
	}

	if c.Posts < 1 {
		return fmt.Errorf("posts must be at least 1")
	}

	switch cfg.StoreDriver(c.Store) {
	case cfg.StoreMemory, cfg.StoreSQLite, cfg.StorePebble:
	default:
		return fmt.Errorf("invalid store: %s (must be memory|sqlite|pebble)", c.Store)
	}

	switch cfg.WriteMode(c.WriteMode) {
	case cfg.WriteThrough, cfg.WriteBack:
	default:
		return fmt.Errorf("invalid write mode: %s (must be write_through|write_back)", c.WriteMode)
	}

	switch c.Workload {
	case "mixed", "like-heavy", "view-heavy":
		// valid
	case "":
		c.Workload = "mixed"
	default:
		return fmt.Errorf("invalid workload: %s (must be mixed|like-heavy|view-heavy)", c.Workload)
	}

	return nil
}

// EngineConfig derives an engine configuration from the package defaults
func (c *Config) EngineConfig() *cfg.Configuration {
	ec := *cfg.Config
	ec.NodeID = 1
	ec.DataDir = c.DataDir
	ec.Queue.Capacity = c.Capacity
	ec.Workers.Count = c.Workers
	ec.Counter.WriteMode = cfg.WriteMode(c.WriteMode)
	ec.Store.Driver = cfg.StoreDriver(c.Store)
	ec.Notify.Enabled = c.Notify
	ec.Notify.Sinks = nil
	return &ec
}

func (c *Config) GetWorkloadDistribution() WorkloadDistribution {
	var dist WorkloadDistribution

	switch c.Workload {
	case "mixed":
		dist = WorkloadDistribution{Like: 35, Unlike: 5, Comment: 15, Follow: 10, Favorite: 10, View: 25}
	case "like-heavy":
		dist = WorkloadDistribution{Like: 80, Unlike: 5, Comment: 5, Follow: 0, Favorite: 0, View: 10}
	case "view-heavy":
		dist = WorkloadDistribution{Like: 5, Unlike: 0, Comment: 5, Follow: 0, Favorite: 0, View: 90}
	}

	if c.LikePct >= 0 {
		dist.Like = c.LikePct
	}
	if c.UnlikePct >= 0 {
		dist.Unlike = c.UnlikePct
	}
	if c.CommentPct >= 0 {
		dist.Comment = c.CommentPct
	}
	if c.FollowPct >= 0 {
		dist.Follow = c.FollowPct
	}
	if c.FavoritePct >= 0 {
		dist.Favorite = c.FavoritePct
	}
	if c.ViewPct >= 0 {
		dist.View = c.ViewPct
	}

	return dist
}

type WorkloadDistribution struct {
	Like     int
	Unlike   int
	Comment  int
	Follow   int
	Favorite int
	View     int
}

func (w WorkloadDistribution) Total() int {
	return w.Like + w.Unlike + w.Comment + w.Follow + w.Favorite + w.View
}

func (w WorkloadDistribution) Validate() error {
	total := w.Total()
	if total != 100 {
		return fmt.Errorf("workload percentages must sum to 100, got %d", total)
	}
	return nil
}
