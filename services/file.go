package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/basit/fileshare-workspaces/apperrors"
	"github.com/basit/fileshare-workspaces/models"
	"github.com/basit/fileshare-workspaces/permission"
)

const defaultContentType = "application/octet-stream"

type FileService struct {
	*core
}

func NewFileService(opts Options) *FileService {
	return &FileService{core: newCore(opts)}
}

// Upload describes incoming file content. Body is read exactly once.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

type FileUpdate struct {
	Name   *string
	Folder *string
}

// PurgeResult reports the outcome of a purge whose metadata removal
// succeeded. StorageErr is set when some bytes could not be released.
type PurgeResult struct {
	FileID     uuid.UUID
	StorageErr error
}

func (up *Upload) normalize() error {
	up.Name = sanitizeFilename(up.Name)
	if up.Name == "" {
		return apperrors.Validation("file name is required")
	}
	if up.Body == nil {
		return apperrors.Validation("no file uploaded")
	}
	if up.Size < 0 {
		return apperrors.Validation("invalid file size")
	}
	if strings.TrimSpace(up.ContentType) == "" {
		up.ContentType = defaultContentType
	}
	return nil
}

func (s *FileService) putBlob(ctx context.Context, up Upload) (string, error) {
	ref, err := s.blobs.Put(ctx, up.Body, up.Size, up.ContentType)
	if err != nil {
		return "", apperrors.Storage(err, "failed to store file")
	}
	return ref, nil
}

// UploadAnonymous stores a link-only file that expires after the configured
// TTL. actorID is recorded as uploader when the caller is signed in.
func (s *FileService) UploadAnonymous(ctx context.Context, actorID *uuid.UUID, up Upload) (*models.File, error) {
	if err := up.normalize(); err != nil {
		return nil, err
	}

	ref, err := s.putBlob(ctx, up)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.anonymousTTL)
	f := &models.File{
		Name:             up.Name,
		ContentType:      up.ContentType,
		Size:             up.Size,
		BlobRef:          ref,
		IsAnonymous:      true,
		Folder:           "/",
		UploaderID:       actorID,
		ShareID:          newShareID(),
		ExpiresAt:        &expiresAt,
		UploadedAt:       now,
		ContentUpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		_ = s.releaseBlobs(context.WithoutCancel(ctx), ref)
		return nil, fmt.Errorf("create file: %w", err)
	}

	s.log.WithFields(logrus.Fields{"file_id": f.ID, "size": f.Size}).Info("anonymous file uploaded")
	return f, nil
}

// UploadToWorkspace stores a file under folder in the workspace. Uploading
// over an active file with the same folder and name keeps the old content
// as a version.
func (s *FileService) UploadToWorkspace(ctx context.Context, actorID, workspaceID uuid.UUID, folder string, up Upload) (*models.File, error) {
	if err := up.normalize(); err != nil {
		return nil, err
	}
	folder = normalizeFolder(folder)

	db := s.db.WithContext(ctx)
	ws, err := findWorkspace(db, workspaceID)
	if err != nil {
		return nil, err
	}
	if _, err := authorize(db, ws, &actorID, permission.UploadFile); err != nil {
		return nil, err
	}

	ref, err := s.putBlob(ctx, up)
	if err != nil {
		return nil, err
	}

	var (
		f        *models.File
		replaced bool
	)
	err = db.Transaction(func(tx *gorm.DB) error {
		locked, err := lockWorkspace(tx, workspaceID)
		if err != nil {
			return err
		}
		if _, err := authorize(tx, locked, &actorID, permission.UploadFile); err != nil {
			return err
		}

		now := s.now()
		var existing models.File
		err = tx.Where("workspace_id = ? AND folder = ? AND name = ? AND is_deleted = ?", workspaceID, folder, up.Name, false).
			Take(&existing).Error
		switch {
		case err == nil:
			replaced = true
			f = &existing
			return replaceContent(tx, f, ref, up, actorID, now)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return fmt.Errorf("find existing file: %w", err)
		}

		wsID := workspaceID
		f = &models.File{
			Name:             up.Name,
			ContentType:      up.ContentType,
			Size:             up.Size,
			BlobRef:          ref,
			WorkspaceID:      &wsID,
			Folder:           folder,
			UploaderID:       &actorID,
			ShareID:          newShareID(),
			UploadedAt:       now,
			ContentUpdatedAt: now,
		}
		if err := tx.Create(f).Error; err != nil {
			return fmt.Errorf("create file: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = s.releaseBlobs(context.WithoutCancel(ctx), ref)
		return nil, err
	}

	if replaced {
		s.invalidateShare(ctx, f.ShareID)
	}
	s.log.WithFields(logrus.Fields{
		"file_id":      f.ID,
		"workspace_id": workspaceID,
		"actor_id":     actorID,
		"new_version":  replaced,
	}).Info("workspace file uploaded")
	return f, nil
}

func replaceContent(tx *gorm.DB, f *models.File, ref string, up Upload, actorID uuid.UUID, now time.Time) error {
	prior := models.FileVersion{
		FileID:      f.ID,
		BlobRef:     f.BlobRef,
		Size:        f.Size,
		ContentType: f.ContentType,
		UploaderID:  f.UploaderID,
		UploadedAt:  f.ContentUpdatedAt,
	}
	if err := tx.Create(&prior).Error; err != nil {
		return fmt.Errorf("append version: %w", err)
	}

	err := tx.Model(f).Updates(map[string]interface{}{
		"blob_ref":           ref,
		"size":               up.Size,
		"content_type":       up.ContentType,
		"uploader_id":        actorID,
		"content_updated_at": now,
	}).Error
	if err != nil {
		return fmt.Errorf("replace file content: %w", err)
	}

	f.BlobRef = ref
	f.Size = up.Size
	f.ContentType = up.ContentType
	f.UploaderID = &actorID
	f.ContentUpdatedAt = now
	return nil
}

// SoftDelete moves an active file into the recycle bin.
func (s *FileService) SoftDelete(ctx context.Context, actorID, fileID uuid.UUID) (*models.File, error) {
	f, err := s.transition(ctx, actorID, fileID, permission.SoftDeleteFile, func(tx *gorm.DB, f *models.File) error {
		if f.State() != models.FileActive {
			return apperrors.Conflict("file is already in the recycle bin")
		}
		now := s.now()
		if err := tx.Model(f).Updates(map[string]interface{}{"is_deleted": true, "deleted_at": now}).Error; err != nil {
			return fmt.Errorf("soft delete file: %w", err)
		}
		f.IsDeleted = true
		f.DeletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"file_id": fileID, "actor_id": actorID}).Info("file moved to recycle bin")
	return f, nil
}

// Restore brings a file back out of the recycle bin.
func (s *FileService) Restore(ctx context.Context, actorID, fileID uuid.UUID) (*models.File, error) {
	f, err := s.transition(ctx, actorID, fileID, permission.RestoreFile, func(tx *gorm.DB, f *models.File) error {
		if f.State() != models.FileSoftDeleted {
			return apperrors.Conflict("file is not in the recycle bin")
		}
		if err := tx.Model(f).Updates(map[string]interface{}{"is_deleted": false, "deleted_at": nil}).Error; err != nil {
			return fmt.Errorf("restore file: %w", err)
		}
		f.IsDeleted = false
		f.DeletedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"file_id": fileID, "actor_id": actorID}).Info("file restored")
	return f, nil
}

// Update renames and/or moves a file. Both are metadata-only.
func (s *FileService) Update(ctx context.Context, actorID, fileID uuid.UUID, in FileUpdate) (*models.File, error) {
	updates := map[string]interface{}{}
	if in.Name != nil {
		name := sanitizeFilename(*in.Name)
		if name == "" {
			return nil, apperrors.Validation("file name cannot be empty")
		}
		updates["name"] = name
	}
	if in.Folder != nil {
		if strings.TrimSpace(*in.Folder) == "" {
			return nil, apperrors.Validation("folder cannot be empty")
		}
		updates["folder"] = normalizeFolder(*in.Folder)
	}
	if len(updates) == 0 {
		return nil, apperrors.Validation("nothing to update")
	}

	action := permission.RenameFile
	if in.Name == nil {
		action = permission.MoveFile
	}

	f, err := s.transition(ctx, actorID, fileID, action, func(tx *gorm.DB, f *models.File) error {
		if in.Name != nil && in.Folder != nil {
			if err := authorizeFile(tx, f, &actorID, permission.MoveFile); err != nil {
				return err
			}
		}
		if f.State() == models.FileSoftDeleted {
			return apperrors.Conflict("restore the file before changing it")
		}
		if err := tx.Model(f).Updates(updates).Error; err != nil {
			return fmt.Errorf("update file: %w", err)
		}
		if name, ok := updates["name"].(string); ok {
			f.Name = name
		}
		if folder, ok := updates["folder"].(string); ok {
			f.Folder = folder
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"file_id": fileID, "actor_id": actorID}).Info("file updated")
	return f, nil
}

func (s *FileService) Rename(ctx context.Context, actorID, fileID uuid.UUID, name string) (*models.File, error) {
	return s.Update(ctx, actorID, fileID, FileUpdate{Name: &name})
}

func (s *FileService) Move(ctx context.Context, actorID, fileID uuid.UUID, folder string) (*models.File, error) {
	return s.Update(ctx, actorID, fileID, FileUpdate{Folder: &folder})
}

// transition locks the file, authorizes action and runs apply in one
// transaction.
func (s *FileService) transition(ctx context.Context, actorID, fileID uuid.UUID, action permission.Action, apply func(tx *gorm.DB, f *models.File) error) (*models.File, error) {
	var f *models.File
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockFile(tx, fileID)
		if err != nil {
			return err
		}
		if err := authorizeFile(tx, locked, &actorID, action); err != nil {
			return err
		}
		if err := apply(tx, locked); err != nil {
			return err
		}
		f = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidateShare(ctx, f.ShareID)
	return f, nil
}

// Purge removes a file permanently. The metadata delete is authoritative;
// blob deletion runs afterwards and its failure is reported in the result
// rather than as an error.
func (s *FileService) Purge(ctx context.Context, actorID, fileID uuid.UUID) (*PurgeResult, error) {
	var (
		refs    []string
		shareID string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		f, err := lockFile(tx, fileID)
		if err != nil {
			return err
		}
		if err := authorizeFile(tx, f, &actorID, permission.PurgeFile); err != nil {
			return err
		}
		shareID = f.ShareID
		refs, err = deleteFileRecord(tx, f)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidateShare(ctx, shareID)
	result := &PurgeResult{FileID: fileID}
	result.StorageErr = s.releaseBlobs(context.WithoutCancel(ctx), refs...)

	s.log.WithFields(logrus.Fields{"file_id": fileID, "actor_id": actorID}).Info("file purged")
	return result, nil
}

// deleteFileRecord removes a file row with its versions and download
// history, returning every blob reference that is now unreferenced.
func deleteFileRecord(tx *gorm.DB, f *models.File) ([]string, error) {
	var versions []models.FileVersion
	if err := tx.Where("file_id = ?", f.ID).Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("load versions: %w", err)
	}
	refs := make([]string, 0, len(versions)+1)
	refs = append(refs, f.BlobRef)
	for _, v := range versions {
		refs = append(refs, v.BlobRef)
	}

	if err := tx.Where("file_id = ?", f.ID).Delete(&models.FileVersion{}).Error; err != nil {
		return nil, fmt.Errorf("delete versions: %w", err)
	}
	if err := tx.Where("file_id = ?", f.ID).Delete(&models.DownloadEvent{}).Error; err != nil {
		return nil, fmt.Errorf("delete download history: %w", err)
	}
	if err := tx.Delete(&models.File{}, "id = ?", f.ID).Error; err != nil {
		return nil, fmt.Errorf("delete file: %w", err)
	}
	return refs, nil
}

// ResolveShare looks a file up by share id. Files in the recycle bin are
// not reachable by link, and anonymous files stop resolving once expired.
func (s *FileService) ResolveShare(ctx context.Context, shareID string) (*models.File, error) {
	shareID = strings.TrimSpace(shareID)
	if shareID == "" {
		return nil, apperrors.NotFound("file not found")
	}

	f, cached := s.cachedShare(ctx, shareID)
	if !cached {
		var found models.File
		err := s.db.WithContext(ctx).Where("share_id = ?", shareID).Take(&found).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NotFound("file not found")
		}
		if err != nil {
			return nil, fmt.Errorf("find shared file: %w", err)
		}
		if found.IsDeleted {
			return nil, apperrors.NotFound("file not found")
		}
		f = &found
		if s.cache != nil {
			s.cache.Set(ctx, f)
		}
	}

	if f.Expired(s.now()) {
		return nil, apperrors.Expired("file has expired")
	}
	return f, nil
}

func (s *FileService) cachedShare(ctx context.Context, shareID string) (*models.File, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(ctx, shareID)
}

// AccessCheck decides whether actorID may read f. A share link grants read
// access to whoever holds it; ResolveShare has already applied deletion and
// expiry. Without a link, workspace files need membership or a public
// workspace, and personal files need their uploader.
func (s *FileService) AccessCheck(ctx context.Context, actorID *uuid.UUID, f *models.File, viaShare bool) error {
	if viaShare {
		return nil
	}
	return authorizeFile(s.db.WithContext(ctx), f, actorID, permission.ViewFiles)
}

// Get returns a file's metadata after the read access check.
func (s *FileService) Get(ctx context.Context, actorID *uuid.UUID, fileID uuid.UUID) (*models.File, error) {
	f, err := findFile(s.db.WithContext(ctx), fileID)
	if err != nil {
		return nil, err
	}
	if err := s.AccessCheck(ctx, actorID, f, false); err != nil {
		return nil, err
	}
	if f.IsDeleted {
		return nil, apperrors.NotFound("file not found")
	}
	if f.Expired(s.now()) {
		return nil, apperrors.Expired("file has expired")
	}
	return f, nil
}

// Download opens a file's content by id. The caller closes the reader.
func (s *FileService) Download(ctx context.Context, actorID *uuid.UUID, fileID uuid.UUID) (*models.File, io.ReadCloser, error) {
	f, err := s.Get(ctx, actorID, fileID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.openBlob(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	return f, rc, nil
}

// DownloadShare opens a file's content through its share link.
func (s *FileService) DownloadShare(ctx context.Context, shareID string) (*models.File, io.ReadCloser, error) {
	f, err := s.ResolveShare(ctx, shareID)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.openBlob(ctx, f)
	if err != nil {
		return nil, nil, err
	}
	return f, rc, nil
}

func (s *FileService) openBlob(ctx context.Context, f *models.File) (io.ReadCloser, error) {
	rc, err := s.blobs.Get(ctx, f.BlobRef)
	if err != nil {
		s.log.WithError(err).WithField("file_id", f.ID).Error("failed to open blob")
		return nil, apperrors.Storage(err, "file content is unavailable")
	}
	return rc, nil
}

// GetShare returns the file's existing share id. It never issues a new one.
func (s *FileService) GetShare(ctx context.Context, actorID, fileID uuid.UUID) (string, error) {
	f, err := findFile(s.db.WithContext(ctx), fileID)
	if err != nil {
		return "", err
	}
	if err := s.AccessCheck(ctx, &actorID, f, false); err != nil {
		return "", err
	}
	return f.ShareID, nil
}

// ListWorkspace returns the active files in folder ("/" when empty).
func (s *FileService) ListWorkspace(ctx context.Context, actorID *uuid.UUID, workspaceID uuid.UUID, folder string) ([]models.File, error) {
	return s.listWorkspace(ctx, actorID, workspaceID, func(q *gorm.DB) *gorm.DB {
		return q.Where("is_deleted = ? AND folder = ?", false, normalizeFolder(folder)).Order("uploaded_at DESC")
	})
}

// ListDeleted returns the workspace's recycle bin, newest deletion first.
func (s *FileService) ListDeleted(ctx context.Context, actorID *uuid.UUID, workspaceID uuid.UUID) ([]models.File, error) {
	return s.listWorkspace(ctx, actorID, workspaceID, func(q *gorm.DB) *gorm.DB {
		return q.Where("is_deleted = ?", true).Order("deleted_at DESC")
	})
}

func (s *FileService) listWorkspace(ctx context.Context, actorID *uuid.UUID, workspaceID uuid.UUID, scope func(*gorm.DB) *gorm.DB) ([]models.File, error) {
	db := s.db.WithContext(ctx)
	ws, err := findWorkspace(db, workspaceID)
	if err != nil {
		return nil, err
	}
	if _, err := authorize(db, ws, actorID, permission.ViewFiles); err != nil {
		return nil, err
	}

	files := []models.File{}
	if err := db.Scopes(scope).Where("workspace_id = ?", workspaceID).Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

// Versions returns the earlier contents of a file, oldest first.
func (s *FileService) Versions(ctx context.Context, actorID, fileID uuid.UUID) ([]models.FileVersion, error) {
	db := s.db.WithContext(ctx)
	f, err := findFile(db, fileID)
	if err != nil {
		return nil, err
	}
	if err := s.AccessCheck(ctx, &actorID, f, false); err != nil {
		return nil, err
	}

	versions := []models.FileVersion{}
	if err := db.Where("file_id = ?", fileID).Order("id").Find(&versions).Error; err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	return versions, nil
}

// RecordDownload appends to a file's download history. Failures are logged
// and never fail the download itself.
func (s *FileService) RecordDownload(ctx context.Context, f *models.File, actorID *uuid.UUID, viaShare bool, ip, userAgent string) {
	event := models.DownloadEvent{
		FileID:    f.ID,
		UserID:    actorID,
		ViaShare:  viaShare,
		IPAddress: ip,
		UserAgent: userAgent,
		CreatedAt: s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&event).Error; err != nil {
		s.log.WithError(err).WithField("file_id", f.ID).Warn("failed to record download")
	}
}

// ReapExpired purges anonymous files past their expiry and recycle-bin
// entries deleted more than retention ago. Each file is purged in its own
// transaction; blob failures are logged and do not stop the sweep.
func (s *FileService) ReapExpired(ctx context.Context, retention time.Duration) (int, error) {
	now := s.now()
	q := s.db.WithContext(ctx).Model(&models.File{}).
		Where("is_anonymous = ? AND expires_at < ?", true, now)
	if retention > 0 {
		q = q.Or("is_deleted = ? AND deleted_at < ?", true, now.Add(-retention))
	}

	var ids []uuid.UUID
	if err := q.Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("find expired files: %w", err)
	}

	purged := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return purged, err
		}

		var (
			refs    []string
			shareID string
			skipped bool
		)
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			f, err := lockFile(tx, id)
			if err != nil {
				return err
			}
			// the row may have been restored since the scan
			if !reapable(f, now, retention) {
				skipped = true
				return nil
			}
			shareID = f.ShareID
			refs, err = deleteFileRecord(tx, f)
			return err
		})
		if apperrors.KindOf(err) == apperrors.KindNotFound {
			continue
		}
		if err != nil {
			return purged, err
		}
		if skipped {
			continue
		}

		s.invalidateShare(ctx, shareID)
		_ = s.releaseBlobs(ctx, refs...)
		purged++
	}

	if purged > 0 {
		s.log.WithField("files", purged).Info("reaped expired files")
	}
	return purged, nil
}

// reapable is the scan condition of ReapExpired evaluated on a locked row.
func reapable(f *models.File, now time.Time, retention time.Duration) bool {
	if f.Expired(now) {
		return true
	}
	return retention > 0 && f.IsDeleted && f.DeletedAt != nil && f.DeletedAt.Before(now.Add(-retention))
}
