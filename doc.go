// Package evalserver serves evaluation definitions to the Braintrust
// playground and runs them locally.
//
// An evaluation pairs a dataset with a task and scorers. Definitions are
// YAML files in the evals directory (eval_*.yaml by default) that name their
// task, scorers and parameters; the names are resolved against a registry
// that holds the built-in example task and scorers plus anything added with
// [WithRegistrations].
//
// # Main Packages
//
// The loader package reads definitions, the devserver package serves them
// over HTTP, and the eval package runs experiments and records them as
// OpenTelemetry traces.
//
// # Configuration
//
// The server reads configuration from environment variables, optionally
// seeded from a .env file by the eval-server command. See [config.FromEnv]
// for the complete list.
//
// # Learn More
//
//   - Documentation: https://www.braintrust.dev/docs
package evalserver
