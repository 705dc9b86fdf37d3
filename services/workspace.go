package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/basit/fileshare-workspaces/apperrors"
	"github.com/basit/fileshare-workspaces/models"
	"github.com/basit/fileshare-workspaces/permission"
)

type WorkspaceService struct {
	*core
}

func NewWorkspaceService(opts Options) *WorkspaceService {
	return &WorkspaceService{core: newCore(opts)}
}

type CreateWorkspaceInput struct {
	Name        string
	Description string
	IsPublic    bool
}

type UpdateWorkspaceInput struct {
	Name        *string
	Description *string
	IsPublic    *bool
}

type MemberView struct {
	UserID   uuid.UUID   `json:"userId"`
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Role     models.Role `json:"role"`
	JoinedAt time.Time   `json:"joinedAt"`
}

func (s *WorkspaceService) Create(ctx context.Context, ownerID uuid.UUID, in CreateWorkspaceInput) (*models.Workspace, error) {
	name := strings.TrimSpace(in.Name)
	description := strings.TrimSpace(in.Description)
	if name == "" || description == "" {
		return nil, apperrors.Validation("name and description are required")
	}

	var ws *models.Workspace
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		code, err := uniqueAccessCode(tx)
		if err != nil {
			return err
		}

		ws = &models.Workspace{
			Name:        name,
			Description: description,
			IsPublic:    in.IsPublic,
			AccessCode:  code,
			OwnerID:     ownerID,
		}
		if err := tx.Create(ws).Error; err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}

		owner := models.Membership{
			WorkspaceID: ws.ID,
			UserID:      ownerID,
			Role:        models.RoleOwner,
			JoinedAt:    s.now(),
		}
		if err := tx.Create(&owner).Error; err != nil {
			return fmt.Errorf("create owner membership: %w", err)
		}
		ws.Members = []models.Membership{owner}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"workspace_id": ws.ID, "actor_id": ownerID}).Info("workspace created")
	return ws, nil
}

func uniqueAccessCode(tx *gorm.DB) (string, error) {
	for i := 0; i < accessCodeAttempts; i++ {
		code, err := newAccessCode()
		if err != nil {
			return "", fmt.Errorf("generate access code: %w", err)
		}
		var n int64
		if err := tx.Model(&models.Workspace{}).Where("access_code = ?", code).Count(&n).Error; err != nil {
			return "", fmt.Errorf("check access code: %w", err)
		}
		if n == 0 {
			return code, nil
		}
	}
	return "", fmt.Errorf("no unique access code after %d attempts", accessCodeAttempts)
}

// JoinByCode adds userID as a viewer of the workspace holding code.
func (s *WorkspaceService) JoinByCode(ctx context.Context, userID uuid.UUID, code string) (*models.Workspace, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.Validation("access code is required")
	}

	var ws *models.Workspace
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var found models.Workspace
		if err := tx.Select("id").Where("access_code = ?", code).Take(&found).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.NotFound("no workspace with that access code")
			}
			return fmt.Errorf("find workspace by code: %w", err)
		}

		locked, err := lockWorkspace(tx, found.ID)
		if err != nil {
			return err
		}
		ws = locked
		return s.addViewer(tx, ws, userID, "already a member of this workspace")
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"workspace_id": ws.ID, "actor_id": userID}).Info("member joined by code")
	return ws, nil
}

// Invite adds the user registered under email as a viewer. The email is
// resolved before the workspace is locked, and the actor's role is
// re-checked under the lock.
func (s *WorkspaceService) Invite(ctx context.Context, actorID, workspaceID uuid.UUID, email string) (*models.Workspace, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperrors.Validation("email is required")
	}

	db := s.db.WithContext(ctx)
	ws, err := findWorkspace(db, workspaceID)
	if err != nil {
		return nil, err
	}
	if _, err := authorize(db, ws, &actorID, permission.InviteMember); err != nil {
		return nil, err
	}

	inviteeID, err := s.identity.ResolveEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		locked, err := lockWorkspace(tx, workspaceID)
		if err != nil {
			return err
		}
		if _, err := authorize(tx, locked, &actorID, permission.InviteMember); err != nil {
			return err
		}
		ws = locked
		return s.addViewer(tx, ws, inviteeID, "user is already a member of this workspace")
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"workspace_id": workspaceID,
		"actor_id":     actorID,
		"user_id":      inviteeID,
	}).Info("member invited")
	return ws, nil
}

func (s *WorkspaceService) addViewer(tx *gorm.DB, ws *models.Workspace, userID uuid.UUID, conflict string) error {
	role, err := memberRole(tx, ws.ID, userID)
	if err != nil {
		return err
	}
	if role != "" {
		return apperrors.Conflict("%s", conflict)
	}

	m := models.Membership{
		WorkspaceID: ws.ID,
		UserID:      userID,
		Role:        models.RoleViewer,
		JoinedAt:    s.now(),
	}
	if err := tx.Create(&m).Error; err != nil {
		return fmt.Errorf("create membership: %w", err)
	}
	return loadMembers(tx, ws)
}

// SetRole changes a member's role. Granting owner transfers ownership: the
// current owner is demoted to editor and the target promoted in the same
// transaction, so no reader ever sees zero or two owners.
func (s *WorkspaceService) SetRole(ctx context.Context, actorID, workspaceID, targetID uuid.UUID, role models.Role) (*models.Workspace, error) {
	if !role.Valid() {
		return nil, apperrors.Validation("invalid role %q", role)
	}

	var (
		ws       *models.Workspace
		previous uuid.UUID
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockWorkspace(tx, workspaceID)
		if err != nil {
			return err
		}
		ws = locked
		previous = ws.OwnerID

		if _, err := authorize(tx, ws, &actorID, permission.ManageMembers); err != nil {
			return err
		}

		current, err := memberRole(tx, ws.ID, targetID)
		if err != nil {
			return err
		}
		if current == "" {
			return apperrors.NotFound("member not found")
		}

		switch {
		case targetID == ws.OwnerID && role == models.RoleOwner:
			// already the owner
		case targetID == ws.OwnerID:
			return apperrors.Conflict("transfer ownership before changing the owner's role")
		case role == models.RoleOwner:
			if err := transferOwnership(tx, ws, targetID); err != nil {
				return err
			}
		default:
			if err := setMemberRole(tx, ws.ID, targetID, role); err != nil {
				return err
			}
		}
		return loadMembers(tx, ws)
	})
	if err != nil {
		return nil, err
	}

	entry := s.log.WithFields(logrus.Fields{
		"workspace_id": workspaceID,
		"actor_id":     actorID,
		"user_id":      targetID,
		"role":         role,
	})
	if role == models.RoleOwner && previous != targetID {
		entry.Info("ownership transferred")
	} else {
		entry.Info("member role changed")
	}
	return ws, nil
}

// transferOwnership demotes before promoting; the single-owner index would
// reject the opposite order.
func transferOwnership(tx *gorm.DB, ws *models.Workspace, targetID uuid.UUID) error {
	if err := setMemberRole(tx, ws.ID, ws.OwnerID, models.RoleEditor); err != nil {
		return err
	}
	if err := setMemberRole(tx, ws.ID, targetID, models.RoleOwner); err != nil {
		return err
	}
	if err := tx.Model(ws).Update("owner_id", targetID).Error; err != nil {
		return fmt.Errorf("update workspace owner: %w", err)
	}
	ws.OwnerID = targetID
	return nil
}

func setMemberRole(tx *gorm.DB, workspaceID, userID uuid.UUID, role models.Role) error {
	res := tx.Model(&models.Membership{}).
		Where("workspace_id = ? AND user_id = ?", workspaceID, userID).
		Update("role", role)
	if res.Error != nil {
		return fmt.Errorf("update member role: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.NotFound("member not found")
	}
	return nil
}

// Remove drops targetID from the workspace. Owners may remove anyone but
// themselves; any member may remove themselves.
func (s *WorkspaceService) Remove(ctx context.Context, actorID, workspaceID, targetID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ws, err := lockWorkspace(tx, workspaceID)
		if err != nil {
			return err
		}

		if actorID != targetID {
			if _, err := authorize(tx, ws, &actorID, permission.ManageMembers); err != nil {
				return err
			}
		}
		if targetID == ws.OwnerID {
			return apperrors.Conflict("the owner cannot be removed; transfer ownership first")
		}

		res := tx.Where("workspace_id = ? AND user_id = ?", ws.ID, targetID).Delete(&models.Membership{})
		if res.Error != nil {
			return fmt.Errorf("delete membership: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.NotFound("member not found")
		}
		return nil
	})
	if err != nil {
		return err
	}

	msg := "member removed"
	if actorID == targetID {
		msg = "member left"
	}
	s.log.WithFields(logrus.Fields{"workspace_id": workspaceID, "actor_id": actorID, "user_id": targetID}).Info(msg)
	return nil
}

// ListMembers returns members in join order. actorID may be nil for public
// workspaces.
func (s *WorkspaceService) ListMembers(ctx context.Context, actorID *uuid.UUID, workspaceID uuid.UUID) ([]MemberView, error) {
	db := s.db.WithContext(ctx)
	ws, err := findWorkspace(db, workspaceID)
	if err != nil {
		return nil, err
	}
	if _, err := authorize(db, ws, actorID, permission.ViewMembers); err != nil {
		return nil, err
	}
	if err := loadMembers(db, ws); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(ws.Members))
	for _, m := range ws.Members {
		ids = append(ids, m.UserID)
	}
	profiles, err := s.identity.Profiles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load member profiles: %w", err)
	}

	views := make([]MemberView, 0, len(ws.Members))
	for _, m := range ws.Members {
		p := profiles[m.UserID]
		views = append(views, MemberView{
			UserID:   m.UserID,
			Name:     p.Name,
			Email:    p.Email,
			Role:     m.Role,
			JoinedAt: m.JoinedAt,
		})
	}
	return views, nil
}

// List returns the workspaces userID belongs to, most recently joined last.
func (s *WorkspaceService) List(ctx context.Context, userID uuid.UUID) ([]models.Workspace, error) {
	var workspaces []models.Workspace
	err := s.db.WithContext(ctx).
		Joins("JOIN workspace_members ON workspace_members.workspace_id = workspaces.id").
		Where("workspace_members.user_id = ?", userID).
		Order("workspace_members.joined_at, workspace_members.id").
		Find(&workspaces).Error
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return workspaces, nil
}

func (s *WorkspaceService) Get(ctx context.Context, actorID *uuid.UUID, workspaceID uuid.UUID) (*models.Workspace, error) {
	db := s.db.WithContext(ctx)
	ws, err := findWorkspace(db, workspaceID)
	if err != nil {
		return nil, err
	}
	if _, err := authorize(db, ws, actorID, permission.ViewFiles); err != nil {
		return nil, err
	}
	if err := loadMembers(db, ws); err != nil {
		return nil, err
	}
	return ws, nil
}

func (s *WorkspaceService) Update(ctx context.Context, actorID, workspaceID uuid.UUID, in UpdateWorkspaceInput) (*models.Workspace, error) {
	updates := map[string]interface{}{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperrors.Validation("name cannot be empty")
		}
		updates["name"] = name
	}
	if in.Description != nil {
		description := strings.TrimSpace(*in.Description)
		if description == "" {
			return nil, apperrors.Validation("description cannot be empty")
		}
		updates["description"] = description
	}
	if in.IsPublic != nil {
		updates["is_public"] = *in.IsPublic
	}
	if len(updates) == 0 {
		return nil, apperrors.Validation("nothing to update")
	}

	var ws *models.Workspace
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := lockWorkspace(tx, workspaceID)
		if err != nil {
			return err
		}
		if _, err := authorize(tx, locked, &actorID, permission.UpdateWorkspace); err != nil {
			return err
		}
		if err := tx.Model(locked).Updates(updates).Error; err != nil {
			return fmt.Errorf("update workspace: %w", err)
		}
		ws, err = findWorkspace(tx, workspaceID)
		if err != nil {
			return err
		}
		return loadMembers(tx, ws)
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// Delete removes the workspace with its memberships and files. Blobs are
// released after the metadata is gone.
func (s *WorkspaceService) Delete(ctx context.Context, actorID, workspaceID uuid.UUID) error {
	var (
		refs     []string
		shareIDs []string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ws, err := lockWorkspace(tx, workspaceID)
		if err != nil {
			return err
		}
		if _, err := authorize(tx, ws, &actorID, permission.DeleteWorkspace); err != nil {
			return err
		}

		var files []models.File
		if err := tx.Preload("Versions").Where("workspace_id = ?", ws.ID).Find(&files).Error; err != nil {
			return fmt.Errorf("load workspace files: %w", err)
		}
		for i := range files {
			fileRefs, err := deleteFileRecord(tx, &files[i])
			if err != nil {
				return err
			}
			refs = append(refs, fileRefs...)
			shareIDs = append(shareIDs, files[i].ShareID)
		}

		if err := tx.Where("workspace_id = ?", ws.ID).Delete(&models.Membership{}).Error; err != nil {
			return fmt.Errorf("delete memberships: %w", err)
		}
		if err := tx.Delete(ws).Error; err != nil {
			return fmt.Errorf("delete workspace: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range shareIDs {
		s.invalidateShare(ctx, id)
	}
	_ = s.releaseBlobs(ctx, refs...)

	s.log.WithFields(logrus.Fields{
		"workspace_id": workspaceID,
		"actor_id":     actorID,
		"files":        len(shareIDs),
	}).Info("workspace deleted")
	return nil
}
