package consts

// Object tag keys attached to every filed email.
const (
	TagSender       = "sender"
	TagTo           = "to"
	TagCc           = "cc"
	TagSentDate     = "sent_date"
	TagSentTime     = "sent_time"
	TagSentDatetime = "sent_datetime"
	TagSubject      = "subject"
)

// TagKeys lists the tag keys in the order they are written.
var TagKeys = []string{
	TagSender,
	TagTo,
	TagCc,
	TagSentDate,
	TagSentTime,
	TagSentDatetime,
	TagSubject,
}

const (
	EmailExtension    = ".eml"
	FilenameSeparator = "_"
	// NoRecipient names the "to" filename component of a message without To.
	NoRecipient = "None"

	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05"
	DatetimeLayout = DateLayout + " " + TimeLayout
)
