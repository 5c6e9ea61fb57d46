// claimroute - deterministic insurance claim routing.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"github.com/jeranaias/claimroute/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	var err error
	switch cmd {
	case cli.CmdDashboard:
		err = cli.HandleDashboard(args)
	case cli.CmdRoute:
		err = cli.HandleRoute(args)
	case cli.CmdClaims:
		err = cli.HandleClaims(args)
	case cli.CmdDecisions:
		err = cli.HandleDecisions(args)
	case cli.CmdServe:
		err = cli.HandleServe(args)
	case cli.CmdIntake:
		err = cli.HandleIntake(args)
	case cli.CmdConsole:
		err = cli.HandleConsole(args)
	case cli.CmdAudit:
		err = cli.HandleAudit(args)
	case cli.CmdOverride:
		err = cli.HandleOverride(args)
	case cli.CmdConfig:
		err = cli.HandleConfig(args)
	case cli.CmdStats:
		err = cli.HandleStats(args)
	case cli.CmdInit:
		err = cli.HandleInit(args)
	case cli.CmdKeygen:
		err = cli.HandleKeygen(args)
	case cli.CmdVersion:
		cli.HandleVersionWithJSON(args)
	case cli.CmdHelp:
		cli.HandleHelp()
	default:
		cli.HandleUnknown(args)
	}

	if err != nil {
		cli.HandleErrorAndExit(err, args.JSON)
	}
}
