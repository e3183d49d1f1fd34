package simulate

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	service "github.com/okian/ladder/internal/app"
	"github.com/okian/ladder/internal/config"
	"github.com/okian/ladder/pkg/logger"
)

func init() {
	_ = logger.Init(logger.WithOutput(io.Discard))
}

func validConfig(base string) *Config {
	return &Config{
		BaseURL:        base,
		Users:          4,
		Duration:       500 * time.Millisecond,
		UpdateInterval: 20 * time.Millisecond,
		MaxScore:       100,
		Timeout:        time.Second,
	}
}

func TestValidate(t *testing.T) {
	Convey("Validate rejects unusable settings", t, func() {
		So(validConfig("http://x").Validate(), ShouldBeNil)

		for _, mutate := range []func(*Config){
			func(c *Config) { c.BaseURL = "" },
			func(c *Config) { c.Users = 0 },
			func(c *Config) { c.Duration = 0 },
			func(c *Config) { c.UpdateInterval = 0 },
			func(c *Config) { c.MaxScore = -1 },
			func(c *Config) { c.Timeout = 0 },
		} {
			cfg := validConfig("http://x")
			mutate(cfg)
			So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
		}
	})
}

func TestRun(t *testing.T) {
	Convey("Given a running leaderboard", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.HeartbeatIntervalMS = 50
		cfg.HeartbeatTimeoutMS = 1000
		svc := service.New(cfg)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop(ctx)
		srv := httptest.NewServer(svc.Handler())
		defer srv.Close()

		Convey("Players connect, answer heartbeats and submit scores", func() {
			stats, err := Run(ctx, validConfig(srv.URL))
			So(err, ShouldBeNil)
			So(stats.Connected.Load(), ShouldEqual, 4)
			So(stats.Submitted.Load(), ShouldBeGreaterThan, 0)
			So(stats.Failed.Load(), ShouldEqual, 0)
			So(stats.Heartbeats.Load(), ShouldBeGreaterThan, 0)
			So(svc.Engine(), ShouldNotBeNil)
		})

		Convey("An unreachable service fails the health check", func() {
			_, err := Run(ctx, validConfig("http://127.0.0.1:1"))
			So(err, ShouldNotBeNil)
		})
	})
}
