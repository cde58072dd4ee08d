// Package logging is the structured logger of oodb, a thin key/value layer
// over logrus.
//
// Components receive a Logger through their options and derive children
// with WithFields, so a page store line carries its file and handle and a
// transaction line carries its id and trace:
//
//	log := logging.New(logging.Config{Level: "debug", Format: "json"})
//	log.WithFields("file", path).Info("mounted store file", "pages", 128)
//
// NewNop returns a logger for tests and embedding that discards everything.
package logging
