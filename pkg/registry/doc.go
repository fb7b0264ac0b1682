// Package registry tracks short-lived side-effect pipelines launched when a
// streamed result arrives: file upload and resume-record creation run in
// parallel, and any caller can await or poll the outcome by operation id
// until the fixed TTL evicts the entry.
package registry
