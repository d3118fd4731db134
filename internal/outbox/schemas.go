package outbox

const checkedInSchema = `{
  "type": "object",
  "title": "AttendanceCheckedIn",
  "properties": {
    "attendance_id": {"type": "string"},
    "gym_id": {"type": "string"},
    "member_id": {"type": "string"},
    "member_name": {"type": "string"},
    "check_in_time": {"type": "string", "format": "date-time"},
    "session_day": {"type": "string", "format": "date"},
    "device_info": {"type": "string"},
    "ip_address": {"type": "string"}
  },
  "required": ["attendance_id", "gym_id", "member_id", "member_name", "check_in_time", "session_day"],
  "additionalProperties": false
}`

const checkedOutSchema = `{
  "type": "object",
  "title": "AttendanceCheckedOut",
  "properties": {
    "attendance_id": {"type": "string"},
    "gym_id": {"type": "string"},
    "member_id": {"type": "string"},
    "check_in_time": {"type": "string", "format": "date-time"},
    "check_out_time": {"type": "string", "format": "date-time"},
    "duration_minutes": {"type": "integer", "minimum": 0},
    "session_day": {"type": "string", "format": "date"}
  },
  "required": ["attendance_id", "gym_id", "member_id", "check_in_time", "check_out_time", "duration_minutes", "session_day"],
  "additionalProperties": false
}`
