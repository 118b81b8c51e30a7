package bot

// Update is one inbound event from the chat platform, already translated to a
// platform-neutral shape by whatever sits in front of the webhook. Exactly one
// of the pointers is set.
type Update struct {
	ID            int64          `json:"updateId"`
	Message       *Message       `json:"message,omitempty"`
	EditedMessage *Message       `json:"editedMessage,omitempty"`
	CallbackQuery *CallbackQuery `json:"callbackQuery,omitempty"`
}

type Chat struct {
	ID string `json:"id"`
}

type User struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Location is a shared position. LivePeriod > 0 marks a live location; live
// updates arrive as edits of the same message.
type Location struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	LivePeriod int     `json:"livePeriod,omitempty"`
}

func (l *Location) Live() bool { return l != nil && l.LivePeriod > 0 }

type Message struct {
	ID         string    `json:"messageId"`
	Chat       Chat      `json:"chat"`
	From       *User     `json:"from,omitempty"`
	Text       string    `json:"text,omitempty"`
	Location   *Location `json:"location,omitempty"`
	WebAppData string    `json:"webAppData,omitempty"`
}

// sender is the subject acting in m: the author when known, else the chat.
func (m *Message) sender() string {
	if m.From != nil && m.From.ID != "" {
		return m.From.ID
	}
	return m.Chat.ID
}

// CallbackQuery is a press on an inline button. Data is the JSON the button
// was built with.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from,omitempty"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data"`
}

// callbackData 按钮回调内容
type callbackData struct {
	Point   string `json:"point,omitempty"`
	Points  string `json:"points,omitempty"`
	Confirm string `json:"confirm,omitempty"`
}

// webAppData is posted by the map widget.
type webAppData struct {
	Action      string  `json:"action"`
	ID          string  `json:"id,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Description string  `json:"description,omitempty"`
	Medical     bool    `json:"medical,omitempty"`
}
