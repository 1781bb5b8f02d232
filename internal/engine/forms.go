package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/JediahDizon/project-naa/internal/attach"
	"github.com/JediahDizon/project-naa/internal/codec"
	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/store"
)

func (e *Engine) SaveFormDefinitions(ctx context.Context, defs []domain.FormDefinition) error {
	return e.Store.Update(ctx, []string{domain.TableFormDefinition}, func(tx *store.Tx) error {
		for _, d := range defs {
			if err := codec.Save(ctx, tx, e.Codecs.FormDefinition, d); err != nil {
				return fmt.Errorf("save form definition %s: %w", d.Key, err)
			}
		}
		return nil
	})
}

func (e *Engine) GetFormDefinition(ctx context.Context, key string) (domain.FormDefinition, error) {
	return codec.Load(ctx, e.Store, e.Codecs.FormDefinition, key)
}

func (e *Engine) GetFormDefinitions(ctx context.Context) ([]domain.FormDefinition, error) {
	return codec.List(ctx, e.Store, e.Codecs.FormDefinition, nil)
}

// GetFormDefinitionByTask follows the task's form values to the definition
// they were entered against.
func (e *Engine) GetFormDefinitionByTask(ctx context.Context, taskID string) (domain.FormDefinition, error) {
	v, err := e.GetFormValue(ctx, taskID)
	if err != nil {
		return domain.FormDefinition{}, err
	}
	if v.Key == "" {
		return domain.FormDefinition{}, &domain.NotFoundError{Table: domain.TableFormDefinition, ID: "task " + taskID}
	}
	return e.GetFormDefinition(ctx, v.Key)
}

func (e *Engine) DeleteFormDefinition(ctx context.Context, key string) error {
	return e.Store.Update(ctx, []string{domain.TableFormDefinition}, func(tx *store.Tx) error {
		return tx.DeleteByID(ctx, domain.TableFormDefinition, key)
	})
}

// SaveFormValues upserts form values. A form value shares its task's id.
func (e *Engine) SaveFormValues(ctx context.Context, values []domain.FormValues) error {
	return e.Store.Update(ctx, []string{domain.TableFormValues}, func(tx *store.Tx) error {
		for _, v := range values {
			if v.ID == "" {
				return &domain.ValidationError{Field: "FormValues.id", Reason: "required"}
			}
			if err := codec.Save(ctx, tx, e.Codecs.FormValues, v); err != nil {
				return fmt.Errorf("save form values %s: %w", v.ID, err)
			}
		}
		return nil
	})
}

// GetFormValue returns the form values with any pending edit laid over them.
func (e *Engine) GetFormValue(ctx context.Context, id string) (domain.FormValues, error) {
	return e.Changelog.MergedFormValues(ctx, e.Codecs.FormValues, id)
}

// GetFormValuesByProject returns the stored form values of the project's
// tasks.
func (e *Engine) GetFormValuesByProject(ctx context.Context, projectID string) ([]domain.FormValues, error) {
	p, err := e.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ids := p.TaskIDs()
	if len(ids) == 0 {
		return []domain.FormValues{}, nil
	}
	return codec.List(ctx, e.Store, e.Codecs.FormValues, store.InStrings("id", ids))
}

// DeleteFormValue removes form values together with the images taken for
// them and their pending edit.
func (e *Engine) DeleteFormValue(ctx context.Context, id string) error {
	if _, err := codec.Load(ctx, e.Store, e.Codecs.FormValues, id); err != nil {
		return err
	}
	imgs, err := e.Attach.Images(ctx, id)
	if err != nil {
		return err
	}
	for _, img := range imgs {
		if err := e.Attach.DeleteImage(ctx, img.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}
	if err := e.Changelog.DeleteLog(ctx, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return e.Store.Update(ctx, []string{domain.TableFormValues}, func(tx *store.Tx) error {
		return tx.DeleteByID(ctx, domain.TableFormValues, id)
	})
}

// --- attachments ---

func (e *Engine) SaveImage(ctx context.Context, img domain.Image, src string) (domain.Image, error) {
	img.ID = newID(img.ID)
	return e.Attach.SaveImage(ctx, img, src)
}

func (e *Engine) SaveFormFile(ctx context.Context, f domain.FormFile, src string) (domain.FormFile, error) {
	f.ID = newID(f.ID)
	return e.Attach.SaveFormFile(ctx, f, src)
}

// SaveAttachments saves a batch; see attach.Manager.SaveBatch.
func (e *Engine) SaveAttachments(ctx context.Context, items []attach.Item) (int, []error) {
	for i := range items {
		switch {
		case items[i].Image != nil:
			items[i].Image.ID = newID(items[i].Image.ID)
		case items[i].FormFile != nil:
			items[i].FormFile.ID = newID(items[i].FormFile.ID)
		}
	}
	return e.Attach.SaveBatch(ctx, items)
}

func (e *Engine) GetImages(ctx context.Context, taskIDs ...string) ([]domain.Image, error) {
	return e.Attach.Images(ctx, taskIDs...)
}

func (e *Engine) GetImage(ctx context.Context, id string) (domain.Image, error) {
	return codec.Load(ctx, e.Store, e.Codecs.Image, id)
}

func (e *Engine) DeleteImage(ctx context.Context, id string) error {
	return e.Attach.DeleteImage(ctx, id)
}

func (e *Engine) GetFormFiles(ctx context.Context, taskIDs ...string) ([]domain.FormFile, error) {
	return e.Attach.FormFiles(ctx, taskIDs...)
}

func (e *Engine) DeleteFormFile(ctx context.Context, id string) error {
	return e.Attach.DeleteFormFile(ctx, id)
}

func (e *Engine) SaveImageLog(ctx context.Context, img domain.Image, src string) (domain.Log, error) {
	img.ID = newID(img.ID)
	return e.Attach.SaveImageLog(ctx, img, src)
}

// ExportLog shares a log by id.
func (e *Engine) ExportLog(ctx context.Context, id string) error {
	l, err := e.Changelog.GetLog(ctx, id)
	if err != nil {
		return err
	}
	return e.Attach.ExportShare(ctx, l)
}
