package bus

import "time"

const (
	noticeStreamName = "NOTICES"
	digestStreamName = "DIGESTS"

	// NoticeSubjects carries raw notices, e.g. notice.audit or notice.disk
	NoticeSubjects = "notice.>"
	// NoticeSubjectPrefix is prepended to a notice topic when publishing
	NoticeSubjectPrefix = "notice."
	// DismissSubject carries dismiss commands
	DismissSubject = "alert.dismiss"
	// DigestSubject carries digests of active alerts
	DigestSubject = "alert.digest"

	streamMaxAge  = 7 * 24 * time.Hour
	streamMaxMsgs = -1
)
