// Package services provides the error taxonomy and context annotations shared
// by the pipeline stages and external-tool clients.
package services
