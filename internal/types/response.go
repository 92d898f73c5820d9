package types

type ResponseLogin struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

type ResponseConnect struct {
	Status string `json:"status"`
	QRCode string `json:"qr_code,omitempty"`
}

type ResponsePair struct {
	PairCode string `json:"pair_code"`
	Timeout  int    `json:"timeout"`
}

type ResponseValidation struct {
	Phone  string `json:"phone"`
	Exists bool   `json:"exists"`
	JID    string `json:"jid,omitempty"`
	Error  string `json:"error,omitempty"`
}

type ResponseJobAccepted struct {
	JobID string `json:"job_id"`
}
