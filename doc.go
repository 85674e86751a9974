// Package daemonctl governs the lifecycle of a daemon under test on behalf
// of an integration test session: it starts the daemon, waits until it is
// ready to serve, watches it while tests run and stops it afterwards.
//
// How the daemon is run is abstracted behind Controller, with one
// implementation per service-management mechanism:
//
//   - Standalone runs the daemon as a child process
//   - ServiceUnit drives a systemd unit, optionally through snap (Linux)
//   - Launchd drives a launchd system daemon (macOS)
//   - WindowsService drives a Windows service through the SCM
//
// A Governor sits on top of a Controller. Start blocks until the readiness
// probe succeeds, then a monitor follows the daemon's output and waits for
// its exit, classifying the exit code:
//
//	sched := daemonctl.NewScheduler(ctx)
//	defer sched.Shutdown(time.Second)
//
//	ctrl, err := daemonctl.NewStandalone(daemonctl.StandaloneConfig{
//	    DaemonPath: "/usr/bin/multipassd",
//	    DataDir:    dataDir,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	gov := daemonctl.NewGovernor(ctrl, sched, daemonctl.WithClient(client))
//	if err := gov.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer gov.Close(ctx)
//
// A daemon exiting with the settings-changed code (42 by default) is started
// again automatically, unless the platform supervisor restarts it on its
// own. Exit code 1 is session-fatal; any other unexpected exit fails the
// current test case. Lines of output matching an ErrorPattern are attached
// to the failure as reasons.
//
// # Errors
//
// Failures are typed: PrerequisiteError for missing binaries, units or
// tools; LaunchError when the start mechanism fails; SessionFatalError and
// TestCaseFatalError for daemon deaths, distinguishable with errors.Is
// against ErrSessionFatal and ErrTestCaseFatal.
//
// # Configuration
//
// Config, loaded with LoadConfig from a file and DAEMONCTL_* environment
// variables, selects the variant and carries every timeout; Session wires
// it into a ready-to-use Governor.
package daemonctl
