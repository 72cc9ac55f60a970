package otel_test

import (
	"context"
	"testing"

	"github.com/okian/sugang/internal/platform/otel"
	"github.com/smartystreets/goconvey/convey"
)

func TestSetup(t *testing.T) {
	convey.Convey("Given tracing setup", t, func() {
		ctx := context.Background()

		convey.Convey("When the endpoint is empty", func() {
			shutdown, err := otel.Setup(ctx, "sugang-test", "  ")

			convey.Convey("Then a no-op shutdown is returned", func() {
				convey.So(err, convey.ShouldBeNil)
				cancelled, cancel := context.WithCancel(ctx)
				cancel()
				convey.So(shutdown(cancelled), convey.ShouldBeNil)
			})
		})

		convey.Convey("When an endpoint is configured", func() {
			// Non-routable so nothing is exported.
			shutdown, err := otel.Setup(ctx, "sugang-test", "http://192.0.2.1:4318")

			convey.Convey("Then the provider shuts down cleanly", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(shutdown(ctx), convey.ShouldBeNil)
			})
		})
	})
}
