package changelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/JediahDizon/project-naa/internal/codec"
	"github.com/JediahDizon/project-naa/internal/domain"
)

// DeepMerge overlays src on dst and returns dst. Objects merge key by key;
// scalars and arrays from src replace what dst had.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, sv := range src {
		sm, srcObj := asObject(sv)
		dm, dstObj := asObject(dst[k])
		if srcObj && dstObj {
			dst[k] = DeepMerge(dm, sm)
			continue
		}
		dst[k] = sv
	}
	return dst
}

func asObject(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case domain.Document:
		return m, true
	}
	return nil, false
}

// optionalLog returns the log for id, or ok=false when there is none.
func (e Engine) optionalLog(ctx context.Context, id string) (domain.Log, bool, error) {
	l, err := e.GetLog(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Log{}, false, nil
	}
	if err != nil {
		return domain.Log{}, false, err
	}
	return l, true, nil
}

// MergedFormValues returns the form values the user should see: the
// canonical record with the pending log's data.values merged over its
// values. With only a log, the log's snapshot is returned.
func (e Engine) MergedFormValues(ctx context.Context, c codec.FormValuesCodec, id string) (domain.FormValues, error) {
	canonical, err := codec.Load(ctx, e.Store, c, id)
	found := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.FormValues{}, err
	}
	l, hasLog, err := e.optionalLog(ctx, id)
	if err != nil {
		return domain.FormValues{}, err
	}
	switch {
	case !found && !hasLog:
		return domain.FormValues{}, &domain.NotFoundError{Table: domain.TableFormValues, ID: id}
	case !hasLog:
		return canonical, nil
	case !found:
		return DecodeData[domain.FormValues](l)
	}
	values := gjson.GetBytes(l.Data, "values")
	if !values.IsObject() {
		return canonical, nil
	}
	var overlay map[string]any
	if err := json.Unmarshal([]byte(values.Raw), &overlay); err != nil {
		return domain.FormValues{}, fmt.Errorf("decode log %s values: %w", id, err)
	}
	canonical.Values = DeepMerge(canonical.Values, overlay)
	return canonical, nil
}

// MergedTask overlays a task's whole log snapshot on the canonical task.
func (e Engine) MergedTask(ctx context.Context, c codec.TaskCodec, id string) (domain.Task, error) {
	canonical, err := codec.Load(ctx, e.Store, c, id)
	found := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Task{}, err
	}
	l, hasLog, err := e.optionalLog(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	switch {
	case !found && !hasLog:
		return domain.Task{}, &domain.NotFoundError{Table: domain.TableTask, ID: id}
	case !hasLog:
		return canonical, nil
	case !found:
		return DecodeData[domain.Task](l)
	}
	base, err := toMap(canonical)
	if err != nil {
		return domain.Task{}, err
	}
	var overlay map[string]any
	if err := json.Unmarshal(l.Data, &overlay); err != nil {
		return domain.Task{}, fmt.Errorf("decode task log %s: %w", id, err)
	}
	merged, err := json.Marshal(DeepMerge(base, overlay))
	if err != nil {
		return domain.Task{}, err
	}
	var out domain.Task
	if err := json.Unmarshal(merged, &out); err != nil {
		return domain.Task{}, fmt.Errorf("decode merged task %s: %w", id, err)
	}
	return out, nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	return m, json.Unmarshal(data, &m)
}

// UnlinkedTasks returns the task snapshots of logs whose task no project
// lists among its tasks. The sync driver creates those remotely
// instead of updating them.
func (e Engine) UnlinkedTasks(ctx context.Context, projects codec.ProjectCodec) ([]domain.Task, error) {
	logs, err := e.Logs(ctx, Filter{Tables: []string{domain.TableTask}, Statuses: liveStatuses()})
	if err != nil {
		return nil, err
	}
	all, err := codec.List(ctx, e.Store, projects, nil)
	if err != nil {
		return nil, err
	}
	linked := map[string]bool{}
	for _, p := range all {
		for _, id := range p.TaskIDs() {
			linked[id] = true
		}
	}
	out := []domain.Task{}
	for _, l := range logs {
		if linked[l.ID] {
			continue
		}
		t, err := DecodeData[domain.Task](l)
		if err != nil {
			e.logger().WithField("id", l.ID).WithError(err).Warn("skipping unreadable task log")
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// Unlinked reports whether id is referenced by no project. Used to decide
// between a remote create and a remote update.
func (e Engine) Unlinked(ctx context.Context, projects codec.ProjectCodec, taskID string) (bool, error) {
	all, err := codec.List(ctx, e.Store, projects, nil)
	if err != nil {
		return false, err
	}
	for _, p := range all {
		for _, id := range p.TaskIDs() {
			if id == taskID {
				return false, nil
			}
		}
	}
	return true, nil
}

// liveStatuses is every status a stored log can have.
func liveStatuses() []Status {
	var out []Status
	for _, s := range domain.Statuses() {
		if !s.Terminal() {
			out = append(out, s)
		}
	}
	return out
}
