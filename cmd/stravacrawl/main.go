package main

import (
	"stravacrawl/cmd/stravacrawl/commands"
	"stravacrawl/lib/osutil"
	"stravacrawl/lib/telemetry"
)

func main() {
	ctx := osutil.SignalContext()

	telemetry.InitSlog(false)
	tel, err := telemetry.SetupFromEnv(ctx, "stravacrawl")
	if err != nil {
		osutil.Fatal("setup telemetry", err)
	}
	defer tel.Shutdown(ctx)
	telemetry.InstrumentPerfStats(ctx)

	commands.ExecuteContext(ctx)
}
