// Package tracking implements open recording and per-client aggregation.
//
// An open is appended to the document of its tracking key through an
// EventSink. Stats are derived from the stored event list on every read.
//
// The service layer contains pure business logic and depends on the
// Repository interface defined in repository.go. It never imports
// net/http or database/sql directly.
package tracking
