package api

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

func timelinePath(projectID, rest string) string {
	return fmt.Sprintf("/api/v1/projects/%s/timeline%s", projectID, rest)
}

// newTimelineProject drives every scene of a 30s project to video_ready,
// producing a 3-clip timeline of 5s stub videos.
func newTimelineProject(t *testing.T, env *testEnv) string {
	t.Helper()
	id := env.createProject(t, "three beat soda spot", 30)
	for i := 0; i < 3; i++ {
		driveToVideoReady(t, env, id, i)
	}

	p, err := env.store.GetProject(id)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if len(p.Clips) != 3 {
		t.Fatalf("%d clips after generation, want 3", len(p.Clips))
	}
	return id
}

func clipIDs(t *testing.T, env *testEnv, projectID string) []string {
	t.Helper()
	p, err := env.store.GetProject(projectID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	ids := make([]string, len(p.Clips))
	for i, c := range p.Clips {
		ids[i] = c.ID
	}
	return ids
}

func TestTimeline_BuiltFromSceneVideos(t *testing.T) {
	env := newTestEnv(t)
	id := newTimelineProject(t, env)

	p, _ := env.store.GetProject(id)
	wantStarts := []float64{0, 5, 10}
	for i, c := range p.Clips {
		if c.Duration != 5 {
			t.Errorf("clip %d duration = %v, want 5", i, c.Duration)
		}
		if c.StartTime != wantStarts[i] {
			t.Errorf("clip %d start = %v, want %v", i, c.StartTime, wantStarts[i])
		}
	}
	if last := p.Clips[2]; last.EndTime != 15 {
		t.Errorf("timeline ends at %v, want 15", last.EndTime)
	}
}

func TestSplitClip_ConservesDuration(t *testing.T) {
	env := newTestEnv(t)
	id := newTimelineProject(t, env)
	ids := clipIDs(t, env, id)

	rr := env.request(t, http.MethodPost, timelinePath(id, "/clips/"+ids[0]+"/split"), SplitClipRequest{AtTime: 2})

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	p, _ := env.store.GetProject(id)
	if len(p.Clips) != 4 {
		t.Fatalf("%d clips after split, want 4", len(p.Clips))
	}
	if p.Clips[0].Duration != 2 || p.Clips[1].Duration != 3 {
		t.Errorf("split durations = %v/%v, want 2/3", p.Clips[0].Duration, p.Clips[1].Duration)
	}
	total := 0.0
	for _, c := range p.Clips {
		total += c.Duration
	}
	if total != 15 {
		t.Errorf("total duration = %v, want 15", total)
	}
	if !p.TimelineEdited {
		t.Error("timeline not marked edited")
	}
}

func TestSplitClip_PointOutsideClip(t *testing.T) {
	env := newTestEnv(t)
	id := newTimelineProject(t, env)
	ids := clipIDs(t, env, id)

	rr := env.request(t, http.MethodPost, timelinePath(id, "/clips/"+ids[0]+"/split"), SplitClipRequest{AtTime: 0})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	body := decodeJSONBody(t, rr)
	if body["code"] != "INVALID_EDIT" {
		t.Errorf("code = %v, want INVALID_EDIT", body["code"])
	}
}

func TestCropClip(t *testing.T) {
	env := newTestEnv(t)
	id := newTimelineProject(t, env)
	ids := clipIDs(t, env, id)

	rr := env.request(t, http.MethodPost, timelinePath(id, "/clips/"+ids[1]+"/crop"), CropClipRequest{
		TrimStart: 1,
		TrimEnd:   0.5,
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	p, _ := env.store.GetProject(id)
	mid := p.Clips[1]
	if mid.Duration != 3.5 {
		t.Errorf("cropped duration = %v, want 3.5", mid.Duration)
	}
	if p.Clips[2].StartTime != 8.5 {
		t.Errorf("following clip start = %v, want 8.5", p.Clips[2].StartTime)
	}
}

func TestCropClip_NegativeTrim(t *testing.T) {
	env := newTestEnv(t)
	id := newTimelineProject(t, env)
	ids := clipIDs(t, env, id)

	rr := env.request(t, http.MethodPost, timelinePath(id, "/clips/"+ids[0]+"/crop"), CropClipRequest{
		TrimStart: -1,
	})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestCropClip_NothingLeft(t *testing.T) {
	env := newTestEnv(t)
	id := newTimelineProject(t, env)
	ids := clipIDs(t, env, id)

	rr := env.request(t, http.MethodPost, timelinePath(id, "/clips/"+ids[0]+"/crop"), CropClipRequest{
		TrimStart: 3,
		TrimEnd:   3,
	})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	body := decodeJSONBody(t, rr)
	if body["code"] != "INVALID_EDIT" {
		t.Errorf("code = %v, want INVALID_EDIT", body["code"])
	}
}

func TestDeleteClip_RecomputesPositions(t *testing.T) {
	env := newTestEnv(t)
	id := newTimelineProject(t, env)
	ids := clipIDs(t, env, id)

	rr := env.request(t, http.MethodDelete, timelinePath(id, "/clips/"+ids[1]), nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	p, _ := env.store.GetProject(id)
	if len(p.Clips) != 2 {
		t.Fatalf("%d clips after delete, want 2", len(p.Clips))
	}
	if p.Clips[1].StartTime != 5 || p.Clips[1].EndTime != 10 {
		t.Errorf("surviving clip spans %v-%v, want 5-10", p.Clips[1].StartTime, p.Clips[1].EndTime)
	}
}

func TestDeleteClip_UnknownID(t *testing.T) {
	env := newTestEnv(t)
	id := newTimelineProject(t, env)

	rr := env.request(t, http.MethodDelete, timelinePath(id, "/clips/ghost"), nil)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestRefreshTimeline_EditedRequiresForce(t *testing.T) {
	env := newTestEnv(t)
	id := newTimelineProject(t, env)
	ids := clipIDs(t, env, id)

	rr := env.request(t, http.MethodPost, timelinePath(id, "/clips/"+ids[0]+"/split"), SplitClipRequest{AtTime: 2})
	if rr.Code != http.StatusOK {
		t.Fatalf("split: status = %d", rr.Code)
	}

	rr = env.request(t, http.MethodPost, timelinePath(id, "/refresh"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: status = %d", rr.Code)
	}
	p, _ := env.store.GetProject(id)
	if len(p.Clips) != 4 {
		t.Errorf("plain refresh rebuilt an edited timeline: %d clips", len(p.Clips))
	}

	rr = env.request(t, http.MethodPost, timelinePath(id, "/refresh"), RefreshTimelineRequest{Force: true})
	if rr.Code != http.StatusOK {
		t.Fatalf("forced refresh: status = %d", rr.Code)
	}
	p, _ = env.store.GetProject(id)
	if len(p.Clips) != 3 {
		t.Errorf("forced refresh left %d clips, want 3", len(p.Clips))
	}
	if p.TimelineEdited {
		t.Error("timeline still marked edited after forced refresh")
	}
}

func TestPreview_SchedulesRender(t *testing.T) {
	env := newTestEnv(t)
	id := newTimelineProject(t, env)

	rr := env.request(t, http.MethodPost, "/api/v1/projects/"+id+"/preview", nil)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p, _ := env.store.GetProject(id)
		if p.PreviewURL != "" {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("preview URL never set")
}

func TestPreview_UnknownProject(t *testing.T) {
	env := newTestEnv(t)

	rr := env.request(t, http.MethodPost, "/api/v1/projects/ghost/preview", nil)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestStitch(t *testing.T) {
	env := newTestEnv(t)
	id := newTimelineProject(t, env)

	rr := env.request(t, http.MethodPost, "/api/v1/projects/"+id+"/stitch", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	body := decodeJSONBody(t, rr)
	url, _ := body["final_video_url"].(string)
	if url == "" {
		t.Fatal("no final video url in response")
	}
	p, _ := env.store.GetProject(id)
	if p.FinalVideoURL != url {
		t.Errorf("stored final url = %q, want %q", p.FinalVideoURL, url)
	}
}

func TestStitch_SecondAttemptRejected(t *testing.T) {
	env := newTestEnv(t)
	id := newTimelineProject(t, env)

	rr := env.request(t, http.MethodPost, "/api/v1/projects/"+id+"/stitch", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("first stitch: status = %d", rr.Code)
	}

	rr = env.request(t, http.MethodPost, "/api/v1/projects/"+id+"/stitch", nil)

	if rr.Code != http.StatusConflict {
		t.Fatalf("second stitch: status = %d, want %d", rr.Code, http.StatusConflict)
	}
	body := decodeJSONBody(t, rr)
	if body["code"] != "ALREADY_RENDERED" {
		t.Errorf("code = %v, want ALREADY_RENDERED", body["code"])
	}
}

func TestStitch_EmptyTimeline(t *testing.T) {
	env := newTestEnv(t)
	id := env.createProject(t, "nothing generated yet", 15)

	rr := env.request(t, http.MethodPost, "/api/v1/projects/"+id+"/stitch", nil)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}
