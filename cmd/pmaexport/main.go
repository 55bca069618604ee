package main

import (
	"pmaexport/cmd/pmaexport/commands"
	"pmaexport/internal/components/serviceutil"
)

func main() {
	ctx, cancel := serviceutil.SignalContext()
	defer cancel()
	commands.ExecuteContext(ctx)
}
