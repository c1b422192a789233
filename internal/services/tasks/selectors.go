package tasks

// Page landmarks and controls. LinkedIn renames classes often; every selector the
// executors depend on lives here.
const (
	linkedInOrigin   = "https://www.linkedin.com"
	feedURL          = "https://www.linkedin.com/feed/"
	messagingURL     = "https://www.linkedin.com/messaging/"
	notificationsURL = "https://www.linkedin.com/notifications/"
	threadURLFormat  = "https://www.linkedin.com/messaging/thread/%s/"

	// Profile page
	profileHeading      = "h1"
	buttonLabel         = "span.artdeco-button__text"
	anySpan             = "span"
	firstDegreeBadge    = "span.dist-value"
	moreActionsButton   = `button[aria-label="More actions"]`
	buttonAncestor      = "button"
	addNoteButton       = `button[aria-label="Add a note"]`
	noteTextarea        = "textarea#custom-message"
	sendInvitation      = `button[aria-label="Send invitation"]`
	sendWithoutNote     = `button[aria-label="Send without a note"]`
	messageTextbox      = `div[role="textbox"]`
	messageSubmitButton = `button[type="submit"]`

	// Messaging
	conversationItem  = "ul.msg-conversations-container__conversations-list > li:nth-child(%d)"
	conversationLink  = "div.entry-point > div.msg-conversation-listitem__link"
	threadHeader      = "h2#thread-detail-jump-target"
	messageList       = ".msg-s-message-list"
	messageEvent      = ".msg-s-message-list__event"
	messageSender     = ".msg-s-message-group__name"
	messageBody       = ".msg-s-event-listitem__body"
	messageTime       = ".msg-s-message-list__time-heading time"
	composeBox        = ".msg-form__contenteditable"
	composeSendButton = ".msg-form__send-button"

	// Feed
	unpressedLike   = `button[aria-label*="Like"][aria-pressed="false"]`
	feedProfileLink = `a[href*="/in/"]:not([href*="miniProfile"])`
)

// Ordered candidates per extracted field; the first non-empty match wins
var (
	nameSelectors = []string{
		"h1",
		".text-heading-xlarge",
		".pv-text-details__left-panel h1",
	}
	headlineSelectors = []string{
		"div.text-body-medium.break-words",
		".text-body-medium",
		".pv-text-details__left-panel .text-body-medium",
	}
	locationSelectors = []string{
		"span.text-body-small.inline.t-black--light.break-words",
		".pv-text-details__left-panel .text-body-small",
		".text-body-small.inline.t-black--light",
	}
)
