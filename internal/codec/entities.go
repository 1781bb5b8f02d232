package codec

import (
	"encoding/json"

	"github.com/JediahDizon/project-naa/internal/domain"
	"github.com/JediahDizon/project-naa/internal/paths"
	"github.com/JediahDizon/project-naa/internal/store"
)

// fileRecord is shared by the File table and the file lists embedded in
// projects, tasks and form values.
func fileRecord(r paths.Resolver, f domain.File) store.Record {
	rec := store.Record{"id": f.ID}
	optional(rec, map[string]string{
		"name":        f.Name,
		"contentType": f.ContentType,
		"prop":        f.Prop,
		"taskId":      f.TaskID,
		"projectId":   f.ProjectID,
		"binaryFile":  f.BinaryFile,
	})
	if f.Size != 0 {
		rec["size"] = f.Size
	}
	owner := f.TaskID
	if owner == "" {
		owner = f.ProjectID
	}
	if tok := r.Token(owner, f.URI); tok != "" {
		rec["uri"] = tok
	}
	return rec
}

func fileFrom(r paths.Resolver, rec store.Record) domain.File {
	return domain.File{
		ID:          rec.String("id"),
		Name:        rec.String("name"),
		ContentType: rec.String("contentType"),
		Prop:        rec.String("prop"),
		Size:        rec.Int("size"),
		TaskID:      rec.String("taskId"),
		ProjectID:   rec.String("projectId"),
		URI:         r.Resolve(rec.String("uri")),
		BinaryFile:  rec.String("binaryFile"),
	}
}

func fileList(r paths.Resolver, rec store.Record, files []domain.File) error {
	if files == nil {
		return nil
	}
	out := make([]store.Record, 0, len(files))
	for _, f := range files {
		if f.ID == "" {
			return &domain.ValidationError{Field: "files.id", Reason: "required"}
		}
		out = append(out, fileRecord(r, f))
	}
	rec["files"] = out
	return nil
}

func filesFrom(r paths.Resolver, recs []store.Record) []domain.File {
	if recs == nil {
		return nil
	}
	out := make([]domain.File, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fileFrom(r, rec))
	}
	return out
}

type FileCodec struct{ Paths paths.Resolver }

func (FileCodec) Table() string { return domain.TableFile }

func (c FileCodec) Encode(f domain.File) (store.Record, error) {
	return fileRecord(c.Paths, f), nil
}

func (c FileCodec) Decode(rec store.Record) (domain.File, error) {
	return fileFrom(c.Paths, rec), nil
}

type ProjectCodec struct{ Paths paths.Resolver }

func (ProjectCodec) Table() string { return domain.TableProject }

func (c ProjectCodec) Encode(p domain.Project) (store.Record, error) {
	rec := store.Record{"id": p.ID}
	optional(rec, map[string]string{
		"name":         p.Name,
		"assignedTo":   p.AssignedTo,
		"comment":      p.Comment,
		"creationDate": p.CreationDate,
	})
	if err := fileList(c.Paths, rec, p.Files); err != nil {
		return nil, err
	}
	tasks := Null
	if p.Tasks != nil {
		var err error
		if tasks, err = encodeJSON(p.Tasks); err != nil {
			return nil, err
		}
	}
	rec["tasks"] = tasks
	if err := listFields(rec, map[string]domain.List{
		"alerts":      p.Alerts,
		"attachments": p.Attachments,
	}); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c ProjectCodec) Decode(rec store.Record) (domain.Project, error) {
	return domain.Project{
		ID:           rec.String("id"),
		Name:         rec.String("name"),
		AssignedTo:   rec.String("assignedTo"),
		Comment:      rec.String("comment"),
		CreationDate: rec.String("creationDate"),
		Files:        filesFrom(c.Paths, rec.List("files")),
		Tasks:        decodeTaskRefs(rec.String("tasks")),
		Alerts:       decodeList(rec.String("alerts")),
		Attachments:  decodeList(rec.String("attachments")),
	}, nil
}

// decodeTaskRefs also accepts a bare list of ids, the shape older rows used.
func decodeTaskRefs(s string) []domain.TaskRef {
	if s == Null {
		return nil
	}
	var refs []domain.TaskRef
	if err := json.Unmarshal([]byte(s), &refs); err == nil && refs != nil {
		return refs
	}
	var ids []string
	if err := json.Unmarshal([]byte(s), &ids); err == nil && ids != nil {
		refs = make([]domain.TaskRef, 0, len(ids))
		for _, id := range ids {
			refs = append(refs, domain.TaskRef{ID: id})
		}
		return refs
	}
	return []domain.TaskRef{}
}

type TaskCodec struct{ Paths paths.Resolver }

func (TaskCodec) Table() string { return domain.TableTask }

func (c TaskCodec) Encode(t domain.Task) (store.Record, error) {
	rec := store.Record{"id": t.ID}
	optional(rec, map[string]string{
		"name":             t.Name,
		"type":             t.Type,
		"key":              t.Key,
		"activityId":       t.ActivityID,
		"activityType":     t.ActivityType,
		"assetId":          t.AssetID,
		"assignedByUserId": t.AssignedByUserID,
		"assignedUserId":   t.AssignedUserID,
		"assignedTo":       t.AssignedTo,
		"bpmStatus":        t.BPMStatus,
		"status":           t.Status,
		"priority":         t.Priority,
		"progress":         t.Progress,
		"deadLine":         t.DeadLine,
		"datum":            t.Datum,
		"jurisdiction":     t.Jurisdiction,
		"regulatoryAgency": t.RegulatoryAgency,
		"regulatoryId":     t.RegulatoryID,
		"overview":         t.Overview,
	})
	if t.CanClose != nil {
		rec["canClose"] = *t.CanClose
	}
	if err := fileList(c.Paths, rec, t.Files); err != nil {
		return nil, err
	}
	if err := docFields(rec, map[string]domain.Document{
		"form":              t.Form,
		"taskDDS":           t.TaskDDS,
		"schema":            t.Schema,
		"well":              t.Well,
		"customTypes":       t.CustomTypes,
		"namedConditions":   t.NamedConditions,
		"processCommonData": t.ProcessCommonData,
		"uiDefinition":      t.UIDefinition,
		"extraDetailsJson":  t.ExtraDetails,
	}); err != nil {
		return nil, err
	}
	if err := listFields(rec, map[string]domain.List{
		"photoTypes":             t.PhotoTypes,
		"processTypes":           t.ProcessTypes,
		"progressUpdateComments": t.ProgressUpdateComments,
		"taskProjectAlerts":      t.TaskProjectAlerts,
		"tasksProjectsFiles":     t.TasksProjectsFiles,
	}); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c TaskCodec) Decode(rec store.Record) (domain.Task, error) {
	return domain.Task{
		ID:                     rec.String("id"),
		Name:                   rec.String("name"),
		Type:                   rec.String("type"),
		Key:                    rec.String("key"),
		ActivityID:             rec.String("activityId"),
		ActivityType:           rec.String("activityType"),
		AssetID:                rec.String("assetId"),
		AssignedByUserID:       rec.String("assignedByUserId"),
		AssignedUserID:         rec.String("assignedUserId"),
		AssignedTo:             rec.String("assignedTo"),
		BPMStatus:              rec.String("bpmStatus"),
		Status:                 rec.String("status"),
		Priority:               rec.String("priority"),
		Progress:               rec.String("progress"),
		DeadLine:               rec.String("deadLine"),
		Datum:                  rec.String("datum"),
		Jurisdiction:           rec.String("jurisdiction"),
		RegulatoryAgency:       rec.String("regulatoryAgency"),
		RegulatoryID:           rec.String("regulatoryId"),
		Overview:               rec.String("overview"),
		CanClose:               rec.BoolPtr("canClose"),
		Files:                  filesFrom(c.Paths, rec.List("files")),
		Form:                   decodeDoc(rec.String("form")),
		TaskDDS:                decodeDoc(rec.String("taskDDS")),
		Schema:                 decodeDoc(rec.String("schema")),
		Well:                   decodeDoc(rec.String("well")),
		CustomTypes:            decodeDoc(rec.String("customTypes")),
		NamedConditions:        decodeDoc(rec.String("namedConditions")),
		ProcessCommonData:      decodeDoc(rec.String("processCommonData")),
		UIDefinition:           decodeDoc(rec.String("uiDefinition")),
		ExtraDetails:           decodeDoc(rec.String("extraDetailsJson")),
		PhotoTypes:             decodeList(rec.String("photoTypes")),
		ProcessTypes:           decodeList(rec.String("processTypes")),
		ProgressUpdateComments: decodeList(rec.String("progressUpdateComments")),
		TaskProjectAlerts:      decodeList(rec.String("taskProjectAlerts")),
		TasksProjectsFiles:     decodeList(rec.String("tasksProjectsFiles")),
	}, nil
}

type FormDefinitionCodec struct{}

func (FormDefinitionCodec) Table() string { return domain.TableFormDefinition }

func (FormDefinitionCodec) Encode(d domain.FormDefinition) (store.Record, error) {
	rec := store.Record{"key": d.Key}
	optional(rec, map[string]string{"name": d.Name})
	if err := docFields(rec, map[string]domain.Document{
		"form":              d.Form,
		"schema":            d.Schema,
		"customTypes":       d.CustomTypes,
		"namedConditions":   d.NamedConditions,
		"processCommonData": d.ProcessCommonData,
	}); err != nil {
		return nil, err
	}
	if err := listFields(rec, map[string]domain.List{"photoTypes": d.PhotoTypes}); err != nil {
		return nil, err
	}
	return rec, nil
}

func (FormDefinitionCodec) Decode(rec store.Record) (domain.FormDefinition, error) {
	return domain.FormDefinition{
		Key:               rec.String("key"),
		Name:              rec.String("name"),
		Form:              decodeDoc(rec.String("form")),
		Schema:            decodeDoc(rec.String("schema")),
		CustomTypes:       decodeDoc(rec.String("customTypes")),
		NamedConditions:   decodeDoc(rec.String("namedConditions")),
		ProcessCommonData: decodeDoc(rec.String("processCommonData")),
		PhotoTypes:        decodeList(rec.String("photoTypes")),
	}, nil
}

type FormValuesCodec struct{ Paths paths.Resolver }

func (FormValuesCodec) Table() string { return domain.TableFormValues }

func (c FormValuesCodec) Encode(v domain.FormValues) (store.Record, error) {
	if v.Key == "" {
		return nil, &domain.ValidationError{Field: "FormValues.key", Reason: "required"}
	}
	rec := store.Record{"id": v.ID, "key": v.Key}
	if err := fileList(c.Paths, rec, v.Files); err != nil {
		return nil, err
	}
	if err := docFields(rec, map[string]domain.Document{
		"values":   v.Values,
		"progress": v.Progress,
		"well":     v.Well,
	}); err != nil {
		return nil, err
	}
	if err := listFields(rec, map[string]domain.List{
		"attachments": v.Attachments,
		"alerts":      v.Alerts,
	}); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c FormValuesCodec) Decode(rec store.Record) (domain.FormValues, error) {
	return domain.FormValues{
		ID:          rec.String("id"),
		Key:         rec.String("key"),
		Values:      decodeDoc(rec.String("values")),
		Files:       filesFrom(c.Paths, rec.List("files")),
		Attachments: decodeList(rec.String("attachments")),
		Alerts:      decodeList(rec.String("alerts")),
		Progress:    decodeDoc(rec.String("progress")),
		Well:        decodeDoc(rec.String("well")),
	}, nil
}

type ImageCodec struct{ Paths paths.Resolver }

func (ImageCodec) Table() string { return domain.TableImage }

func (c ImageCodec) Encode(img domain.Image) (store.Record, error) {
	if img.TaskID == "" {
		return nil, &domain.ValidationError{Field: "Image.taskId", Reason: "required"}
	}
	rec := store.Record{"id": img.ID, "taskId": img.TaskID, "canChange": img.CanChange}
	optional(rec, map[string]string{
		"projectId":   img.ProjectID,
		"uri":         c.Paths.Token(img.TaskID, img.URI),
		"fileName":    img.FileName,
		"fileType":    img.FileType,
		"contentType": img.ContentType,
		"thumbnail":   img.Thumbnail,
	})
	if img.FileSize != 0 {
		rec["fileSize"] = img.FileSize
	}
	if err := docFields(rec, map[string]domain.Document{"jsonDetails": img.JSONDetails}); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c ImageCodec) Decode(rec store.Record) (domain.Image, error) {
	return domain.Image{
		ID:          rec.String("id"),
		TaskID:      rec.String("taskId"),
		ProjectID:   rec.String("projectId"),
		URI:         c.Paths.Resolve(rec.String("uri")),
		FileName:    rec.String("fileName"),
		FileSize:    rec.Int("fileSize"),
		FileType:    rec.String("fileType"),
		ContentType: rec.String("contentType"),
		CanChange:   rec.Bool("canChange"),
		JSONDetails: decodeDoc(rec.String("jsonDetails")),
		Thumbnail:   rec.String("thumbnail"),
	}, nil
}

type FormFileCodec struct{ Paths paths.Resolver }

func (FormFileCodec) Table() string { return domain.TableFormFiles }

func (c FormFileCodec) Encode(f domain.FormFile) (store.Record, error) {
	if f.TaskID == "" {
		return nil, &domain.ValidationError{Field: "FormFiles.taskId", Reason: "required"}
	}
	rec := store.Record{"id": f.ID, "taskId": f.TaskID}
	optional(rec, map[string]string{
		"uri":         c.Paths.Token(f.TaskID, f.URI),
		"name":        f.Name,
		"prop":        f.Prop,
		"contentType": f.ContentType,
	})
	if f.Size != 0 {
		rec["size"] = f.Size
	}
	if err := docFields(rec, map[string]domain.Document{"jsonDetails": f.JSONDetails}); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c FormFileCodec) Decode(rec store.Record) (domain.FormFile, error) {
	return domain.FormFile{
		ID:          rec.String("id"),
		TaskID:      rec.String("taskId"),
		URI:         c.Paths.Resolve(rec.String("uri")),
		Name:        rec.String("name"),
		Prop:        rec.String("prop"),
		ContentType: rec.String("contentType"),
		Size:        rec.Int("size"),
		JSONDetails: decodeDoc(rec.String("jsonDetails")),
	}, nil
}

type TranslationCodec struct{}

func (TranslationCodec) Table() string { return domain.TableTranslation }

func (TranslationCodec) Encode(t domain.Translation) (store.Record, error) {
	rec := store.Record{"locale": t.Locale}
	if err := docFields(rec, map[string]domain.Document{"translation": t.Translation}); err != nil {
		return nil, err
	}
	return rec, nil
}

func (TranslationCodec) Decode(rec store.Record) (domain.Translation, error) {
	return domain.Translation{
		Locale:      rec.String("locale"),
		Translation: decodeDoc(rec.String("translation")),
	}, nil
}

type SyncCodec struct{}

func (SyncCodec) Table() string { return domain.TableSync }

func (SyncCodec) Encode(s domain.SyncRecord) (store.Record, error) {
	rec := store.Record{
		"id":        s.ID,
		"timestamp": s.Timestamp,
		"type":      int64(s.Type),
	}
	optional(rec, map[string]string{"tableName": s.TableName})
	if err := docFields(rec, map[string]domain.Document{"model": s.Model}); err != nil {
		return nil, err
	}
	errs, err := encodeStrings(s.Errors)
	if err != nil {
		return nil, err
	}
	rec["errors"] = errs
	return rec, nil
}

func (SyncCodec) Decode(rec store.Record) (domain.SyncRecord, error) {
	return domain.SyncRecord{
		ID:        rec.String("id"),
		Timestamp: rec.Time("timestamp"),
		TableName: rec.String("tableName"),
		Model:     decodeDoc(rec.String("model")),
		Errors:    decodeStrings(rec.String("errors")),
		Type:      domain.SyncType(rec.Int("type")),
	}, nil
}

func encodeStrings(s []string) (string, error) {
	if s == nil {
		return Null, nil
	}
	return encodeJSON(s)
}
