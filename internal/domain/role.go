package domain

type RoleID int

type Role struct {
	ID         RoleID `json:"id"`
	Label      string `json:"label"`
	Level      int    `json:"level"`
	Promotable bool   `json:"promotable"`
}

type Permission string

const (
	PermChangeRoomLock  Permission = "CHANGE_ROOM_LOCK"
	PermPromotePeer     Permission = "PROMOTE_PEER"
	PermModifyRole      Permission = "MODIFY_ROLE"
	PermSendChat        Permission = "SEND_CHAT"
	PermModerateChat    Permission = "MODERATE_CHAT"
	PermShareAudio      Permission = "SHARE_AUDIO"
	PermShareVideo      Permission = "SHARE_VIDEO"
	PermShareScreen     Permission = "SHARE_SCREEN"
	PermExtraVideo      Permission = "EXTRA_VIDEO"
	PermShareFile       Permission = "SHARE_FILE"
	PermModerateFiles   Permission = "MODERATE_FILES"
	PermModerateRoom    Permission = "MODERATE_ROOM"
	PermLocalRecordRoom Permission = "LOCAL_RECORD_ROOM"
)

// RolePermissions maps a permission to the roles authorized for it.
type RolePermissions map[Permission][]Role
