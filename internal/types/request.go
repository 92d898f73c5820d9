package types

type RequestLogin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RequestConnect struct {
	ProfileID string `json:"profile_id"`
}

type RequestPair struct {
	ProfileID string `json:"profile_id"`
	Phone     string `json:"phone"`
}

type RequestValidate struct {
	ProfileID string   `json:"profile_id"`
	Numbers   []string `json:"numbers"`
}

type RequestBroadcast struct {
	ProfileID       string   `json:"profile_id"`
	Message         string   `json:"message"`
	Recipients      []string `json:"recipients"`
	DelayMinSeconds int      `json:"delay_min_seconds"`
	DelayMaxSeconds int      `json:"delay_max_seconds"`
}

type RequestGroupSpec struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Participants []string `json:"participants"`
}

type RequestCreateGroupsBulk struct {
	ProfileID string             `json:"profile_id"`
	Groups    []RequestGroupSpec `json:"groups"`
}

type RequestBuildVCF struct {
	Contacts []RequestContact `json:"contacts"`
}

type RequestContact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}
