// Package logging provides structured logging using uber/zap.
//
// Production builds write JSON; development builds write colored console
// lines at whatever level is configured. Packages take a *zap.Logger and
// receive a named child:
//
//	logger, err := logging.New(logging.Config{Level: "info"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	controller.WithLogger(logger.Component("controller"))
package logging
