package config_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/standings/internal/config"
	"github.com/okian/standings/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 3)
			convey.So(cfg.MaxAttempts, convey.ShouldEqual, 3)
			convey.So(cfg.BackoffBase(), convey.ShouldEqual, 500*time.Millisecond)
			convey.So(cfg.BackoffMax(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.JobTimeout(), convey.ShouldEqual, time.Minute)
			convey.So(cfg.Priority(), convey.ShouldEqual, model.PriorityHigh)
			convey.So(cfg.SnapshotRetention(), convey.ShouldEqual, 30*24*time.Hour)
			convey.So(cfg.DatabaseDriver, convey.ShouldEqual, config.DriverMemory)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given a default config", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("When worker_count is zero", func() {
			cfg.WorkerCount = 0
			convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When the backoff ceiling is below the base", func() {
			cfg.BackoffMaxMS = 10
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("When the manual priority is unknown", func() {
			cfg.ManualPriority = "asap"
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})

		convey.Convey("When sqlite is selected without a dsn", func() {
			cfg.DatabaseDriver = config.DriverSQLite
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)

			cfg.DatabaseDSN = "file:standings.db"
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("When the driver is unknown", func() {
			cfg.DatabaseDriver = "mongo"
			convey.So(cfg.Validate(), convey.ShouldNotBeNil)
		})
	})
}

func TestConfig_Origins(t *testing.T) {
	convey.Convey("Given a comma separated origin list", t, func() {
		cfg := config.New(context.Background())
		cfg.CORSOrigins = " https://a.example , ,https://b.example"

		convey.Convey("Then blanks are dropped and entries trimmed", func() {
			convey.So(cfg.Origins(), convey.ShouldResemble, []string{"https://a.example", "https://b.example"})
		})
	})
}
