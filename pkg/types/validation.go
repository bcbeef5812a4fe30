package types

// Room codes are five decimal digits, 10000-99999.
const (
	RoomCodeMin = 10000
	RoomCodeMax = 99999
)

// IsValidRoomCode reports whether code is a well-formed five-digit room code.
func IsValidRoomCode(code string) bool {
	if len(code) != 5 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return code[0] != '0'
}

// ValidateRole reports whether role is a known connection role.
func ValidateRole(role string) bool {
	return role == RoleHost || role == RoleStudent
}
