package room

import "errors"

var (
	ErrRoomExists    = errors.New("room already exists")
	ErrRoomNotFound  = errors.New("room not found")
	ErrDuplicateUser = errors.New("user id already in room")
)
