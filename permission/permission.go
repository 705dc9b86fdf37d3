// Package permission holds the capability table every workspace and file
// mutation is checked against.
package permission

import "github.com/basit/fileshare-workspaces/models"

type Action int

const (
	ViewFiles Action = iota
	ViewMembers
	UploadFile
	SoftDeleteFile
	RestoreFile
	PurgeFile
	RenameFile
	MoveFile
	InviteMember
	ManageMembers
	UpdateWorkspace
	DeleteWorkspace
)

var actionNames = map[Action]string{
	ViewFiles:       "view files",
	ViewMembers:     "view members",
	UploadFile:      "upload files",
	SoftDeleteFile:  "delete files",
	RestoreFile:     "restore files",
	PurgeFile:       "permanently delete files",
	RenameFile:      "rename files",
	MoveFile:        "move files",
	InviteMember:    "invite members",
	ManageMembers:   "manage members",
	UpdateWorkspace: "update the workspace",
	DeleteWorkspace: "delete the workspace",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown action"
}

type grant struct {
	viewer, editor, owner bool
}

var capabilities = map[Action]grant{
	ViewFiles:       {viewer: true, editor: true, owner: true},
	ViewMembers:     {viewer: true, editor: true, owner: true},
	UploadFile:      {viewer: true, editor: true, owner: true},
	SoftDeleteFile:  {viewer: true, editor: true, owner: true},
	RestoreFile:     {viewer: true, editor: true, owner: true},
	PurgeFile:       {owner: true},
	RenameFile:      {editor: true, owner: true},
	MoveFile:        {editor: true, owner: true},
	InviteMember:    {editor: true, owner: true},
	ManageMembers:   {owner: true},
	UpdateWorkspace: {owner: true},
	DeleteWorkspace: {owner: true},
}

// Allows reports whether role may perform action. Unknown roles and
// actions are denied.
func Allows(role models.Role, action Action) bool {
	g, ok := capabilities[action]
	if !ok {
		return false
	}
	switch role {
	case models.RoleViewer:
		return g.viewer
	case models.RoleEditor:
		return g.editor
	case models.RoleOwner:
		return g.owner
	default:
		return false
	}
}

// ReadOnly reports whether action only reads. Non-members of a public
// workspace are limited to these.
func ReadOnly(action Action) bool {
	return action == ViewFiles || action == ViewMembers
}
