package messaging

import "strings"

// Subject prefixes. Full subjects append the source name, e.g. cloudlog.raw.audit.
const (
	SubjectRawPrefix        = "cloudlog.raw"
	SubjectNormalizedPrefix = "cloudlog.normalized"
	SubjectDLQPrefix        = "cloudlog.dlq"
)

// RawSubject is where raw LogEntry messages for source arrive.
func RawSubject(source string) string {
	return SubjectRawPrefix + "." + source
}

// NormalizedSubject is where normalized events for source are published.
func NormalizedSubject(source string) string {
	return SubjectNormalizedPrefix + "." + source
}

// DLQSubject is where failed messages for source are dead-lettered.
func DLQSubject(source string) string {
	return SubjectDLQPrefix + "." + source
}

// SourceFromSubject returns the trailing source token of a cloudlog subject.
func SourceFromSubject(subject string) (string, bool) {
	i := strings.LastIndexByte(subject, '.')
	if i < 0 || i == len(subject)-1 {
		return "", false
	}
	return subject[i+1:], true
}
