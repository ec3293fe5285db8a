package types

// ActionTag names the kind of browser step to run.
type ActionTag string

const (
	ActionNavigate    ActionTag = "navigate"
	ActionScreenshot  ActionTag = "screenshot"
	ActionExtractText ActionTag = "extract-text"
	ActionClick       ActionTag = "click"
	ActionType        ActionTag = "type"
	ActionWait        ActionTag = "wait"
	ActionScrape      ActionTag = "scrape"
)

// BrowserAction is one step of a resolved action list. Only the fields
// relevant to Tag are meaningful; Executor validates tag-specific
// presence before dispatch.
type BrowserAction struct {
	Tag ActionTag `json:"tag"`

	URL  string `json:"url,omitempty"`  // navigate, scrape
	Sel  string `json:"sel,omitempty"`  // screenshot, extract-text, click, type
	Text string `json:"text,omitempty"` // type
	MS   int    `json:"ms,omitempty"`   // wait

	Selectors []string `json:"selectors,omitempty"` // scrape
}

func Navigate(url string) BrowserAction    { return BrowserAction{Tag: ActionNavigate, URL: url} }
func Screenshot(sel string) BrowserAction  { return BrowserAction{Tag: ActionScreenshot, Sel: sel} }
func ExtractText(sel string) BrowserAction { return BrowserAction{Tag: ActionExtractText, Sel: sel} }
func Click(sel string) BrowserAction       { return BrowserAction{Tag: ActionClick, Sel: sel} }
func Type(sel, text string) BrowserAction  { return BrowserAction{Tag: ActionType, Sel: sel, Text: text} }
func Wait(ms int) BrowserAction            { return BrowserAction{Tag: ActionWait, MS: ms} }
func Scrape(url string, selectors []string) BrowserAction {
	return BrowserAction{Tag: ActionScrape, URL: url, Selectors: selectors}
}

// ActionResult is the outcome of dispatching one BrowserAction.
type ActionResult struct {
	Action      BrowserAction `json:"action"`
	Success     bool          `json:"success"`
	Data        string        `json:"data,omitempty"`
	Screenshot  string        `json:"screenshotPath,omitempty"`
	Error       string        `json:"error,omitempty"`
}
