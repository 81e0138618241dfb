// Package shared holds helpers used by more than one package that belong to
// no particular layer.
//
// The testutil subpackage provides LogCapture, an in-memory slog.Handler for
// asserting on what a component logged:
//
//	logger, logs := testutil.NewLogCapture()
//	auth := session.NewAuthenticator(store, cfg, logger)
//	...
//	logs.AssertLogged(t, slog.LevelWarn, "degraded to anonymous")
//
// Nothing here may import business packages.
package shared
