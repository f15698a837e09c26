// Package harvest defines the types and collaborator interfaces shared by the
// fetch dispatcher, the worker pool and the output sinks.
//
// An Item is fetched from one of a fixed set of interchangeable replicas. Each
// attempt yields an Outcome; each item ends in exactly one Result.
package harvest
