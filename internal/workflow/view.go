package workflow

import "github.com/Brownie44l1/jute-web/internal/model"

type ImageView struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type"`
	Size      int64  `json:"size"`
	SizeMB    string `json:"size_mb"`
}

// View is an immutable snapshot of a session for rendering.
type View struct {
	Image         *ImageView          `json:"image"`
	Preview       Preview             `json:"preview"`
	Model         model.ModelChoice   `json:"model"`
	Models        []model.ModelChoice `json:"models"`
	Busy          bool                `json:"busy"`
	CanPredict    bool                `json:"can_predict"`
	Result        *model.Presentation `json:"result"`
	Notifications []Notification      `json:"notifications"`
}

// Snapshot returns the current view and drains pending notifications.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Preview:       s.preview,
		Model:         s.choice,
		Models:        model.Catalog(),
		Busy:          s.busy,
		CanPredict:    s.image != nil && !s.busy,
		Notifications: s.notices,
	}
	if v.Notifications == nil {
		v.Notifications = []Notification{}
	}
	s.notices = nil

	if s.image != nil {
		v.Image = &ImageView{
			Name:      s.image.Name,
			MediaType: s.image.MediaType,
			Size:      s.image.Size(),
			SizeMB:    s.image.SizeMB(),
		}
	}
	if s.result != nil && !s.busy {
		p := model.Present(*s.result, s.resultFor)
		v.Result = &p
	}
	return v
}
