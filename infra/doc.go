// Package infra contains technical adapters: the MQTT notifier, metrics
// sinks, the Sentry monitor and the zerolog and logrus loggers. These
// packages should depend only on the interfaces defined in the core packages.
package infra
