package server

import (
	"github.com/chaos-io/cutout/workflow"
	"github.com/segmentio/ksuid"
)

type assetView struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func newAssetView(a *workflow.Asset) *assetView {
	if a == nil {
		return nil
	}
	return &assetView{Width: a.Width(), Height: a.Height()}
}

type comparisonView struct {
	Percent        float64 `json:"percent"`
	Dragging       bool    `json:"dragging"`
	OverlayOpacity float64 `json:"overlay_opacity"`
	BeforeClip     string  `json:"before_clip"`
	AfterClip      string  `json:"after_clip"`
}

func newComparisonView(st workflow.ComparisonState, staticOpacity float64) comparisonView {
	regions := workflow.Clip(st.Percent)
	return comparisonView{
		Percent:        st.Percent,
		Dragging:       st.Dragging,
		OverlayOpacity: st.OverlayOpacity(staticOpacity),
		BeforeClip:     regions.BeforeInset(),
		AfterClip:      regions.AfterInset(),
	}
}

type noticeView struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// sessionView GET /sessions/:id 的响应
type sessionView struct {
	ID         string         `json:"id"`
	State      string         `json:"state"`
	Busy       bool           `json:"busy"`
	Original   *assetView     `json:"original"`
	Processed  *assetView     `json:"processed"`
	Comparison comparisonView `json:"comparison"`
	Error      string         `json:"error,omitempty"`
	Token      string         `json:"token,omitempty"`
	Notices    []noticeView   `json:"notices"`
}

func newSessionView(sess *Session, snap workflow.Snapshot) sessionView {
	v := sessionView{
		ID:         sess.ID,
		State:      snap.State.String(),
		Busy:       snap.Busy(),
		Original:   newAssetView(snap.Original),
		Processed:  newAssetView(snap.Processed),
		Comparison: newComparisonView(snap.Comparison, sess.Controller.View().StaticOpacity),
		Notices:    []noticeView{},
	}
	if snap.Err != nil {
		v.Error = snap.Err.Error()
	}
	if snap.Token != ksuid.Nil {
		v.Token = snap.Token.String()
	}
	for _, n := range sess.Notices() {
		level := "info"
		if n.Level == workflow.LevelError {
			level = "error"
		}
		v.Notices = append(v.Notices, noticeView{Level: level, Message: n.Message})
	}
	return v
}
