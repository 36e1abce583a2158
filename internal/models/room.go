package models

// RoomInfo describes the current occupancy of a room
type RoomInfo struct {
	ID       string `json:"roomId"`
	Members  int    `json:"members"`
	Capacity int    `json:"capacity"`
	Full     bool   `json:"full"`
}

// CreateRoomResponse is the response for creating a room
type CreateRoomResponse struct {
	RoomID string `json:"roomId"`
}
