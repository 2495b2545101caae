package main

import (
	"context"

	"consoleharvest/cmd/harvester/commands"
	"consoleharvest/lib/serviceutil"
	"consoleharvest/lib/telemetry"
)

func main() {
	telemetry.InitSlog(false)

	ctx := serviceutil.SignalContext()
	tel, err := telemetry.SetupFromEnv(ctx, "harvester")
	if err != nil {
		serviceutil.Fatal("failed to setup telemetry", err)
	}
	defer tel.Shutdown(context.Background())

	commands.ExecuteContext(ctx)
}
