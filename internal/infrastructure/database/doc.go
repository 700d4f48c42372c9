// Package database manages the SQLite connection for rinLink.
//
// Scene, room, and device-group definitions persist here; live device
// state never touches the database (the state cache owns it). The schema
// is applied by embedded migrations at startup.
package database
