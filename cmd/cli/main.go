package main

import (
	"context"

	tracktorbeam "github.com/Claudio-Chies/tracktor-beam"

	"go.viam.com/rdk/logging"
	genericservice "go.viam.com/rdk/services/generic"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	ctx := context.Background()
	logger := logging.NewLogger("cli")

	cfg := tracktorbeam.Config{
		TrackerCameraName: "tracker-camera",
		UpdateRateHz:      1.0,
		EnableOnStart:     true,
	}

	thing, err := tracktorbeam.NewLandingMonitor(ctx, genericservice.Named("foo"), &cfg, logger)
	if err != nil {
		return err
	}
	defer thing.Close(ctx)

	return nil
}
