package schema

const (
	FieldID             Field = "id"
	FieldName           Field = "name"
	FieldIsActive       Field = "is_active"
	FieldElectionID     Field = "election_id"
	FieldConstituencyID Field = "constituency_id"

	FieldVoterUID      Field = "voter_uid"
	FieldFullName      Field = "full_name"
	FieldPhone         Field = "phone"
	FieldPIN           Field = "pin"
	FieldEmail         Field = "email"
	FieldGender        Field = "gender"
	FieldAddress       Field = "address"
	FieldHasVoted      Field = "has_voted"
	FieldPINAttempts   Field = "pin_attempts"
	FieldAccountStatus Field = "account_status"
	FieldLockTime      Field = "lock_time"

	FieldTitle       Field = "title"
	FieldType        Field = "type"
	FieldDescription Field = "description"
	FieldStart       Field = "start"
	FieldEnd         Field = "end"
	FieldStatus      Field = "status"
	FieldMetadata    Field = "metadata"

	FieldState Field = "state"

	FieldParty     Field = "party"
	FieldPartyLogo Field = "party_logo"

	FieldVoterID     Field = "voter_id"
	FieldCandidateID Field = "candidate_id"

	FieldEmployeeID Field = "employee_id"
	FieldPassword   Field = "password"
	FieldRole       Field = "role"
)

var Voters = Entity{
	Name:   "voters",
	Tables: []string{"Voters", "voters"},
	Fields: map[Field][]string{
		FieldID:             {"Id", "id"},
		FieldVoterUID:       {"Voter_UId", "voter_uid"},
		FieldName:           {"Voter_Name", "voter_name", "Full_Name", "full_name", "Name", "name"},
		FieldFullName:       {"Full_Name", "full_name"},
		FieldPhone:          {"Phone_number", "phone_number"},
		FieldPIN:            {"Secret_PIN", "secret_pin"},
		FieldEmail:          {"Email", "email"},
		FieldGender:         {"Gender", "gender"},
		FieldAddress:        {"Address", "address"},
		FieldConstituencyID: {"Constituency_Id", "constituency_id"},
		FieldIsActive:       {"is_active", "Is_active"},
		FieldHasVoted:       {"Has_voted", "has_voted"},
		FieldPINAttempts:    {"pin_attempts", "Pin_attempts"},
		FieldAccountStatus:  {"account_status", "Account_status"},
		FieldLockTime:       {"lock_time", "Lock_time"},
	},
	Required: []Field{
		FieldID, FieldVoterUID, FieldPhone, FieldPIN,
		FieldHasVoted, FieldPINAttempts, FieldAccountStatus, FieldLockTime,
	},
}

var Elections = Entity{
	Name:   "elections",
	Tables: []string{"Elections", "elections"},
	Fields: map[Field][]string{
		FieldID:          {"Id", "id"},
		FieldName:        {"Election_Name", "election_name", "Title", "title"},
		FieldTitle:       {"Title", "title"},
		FieldType:        {"Election_type", "election_type", "Type", "type"},
		FieldDescription: {"Description", "description"},
		FieldStart:       {"Start_time", "start_time", "Start_Date", "start_date"},
		FieldEnd:         {"End_time", "end_time", "End_Date", "end_date"},
		FieldStatus:      {"Status", "status"},
		FieldMetadata:    {"Metadata", "metadata"},
	},
	Required: []Field{FieldID},
}

var Constituencies = Entity{
	Name:   "constituencies",
	Tables: []string{"constituencies", "Constituencies"},
	Fields: map[Field][]string{
		FieldID:       {"Id", "id"},
		FieldName:     {"Name", "name", "Constituency_Name", "constituency_name", "Title", "title"},
		FieldState:    {"State", "state"},
		FieldIsActive: {"Is_active", "is_active", "Active", "active"},
	},
	Required: []Field{FieldID, FieldName},
}

var Candidates = Entity{
	Name:   "candidates",
	Tables: []string{"candidates", "Candidates"},
	Fields: map[Field][]string{
		FieldID:             {"Id", "id"},
		FieldName:           {"Candidate_Name", "candidate_name", "Name", "name"},
		FieldParty:          {"Party_Name", "party_name"},
		FieldPartyLogo:      {"Party_Logo_Url", "party_logo_url", "Party_Logo", "party_logo"},
		FieldElectionID:     {"Election_Id", "election_id"},
		FieldConstituencyID: {"Constituency_id", "Constituency_Id", "constituency_id"},
		FieldIsActive:       {"Is_active", "is_active"},
	},
	Required: []Field{FieldID, FieldElectionID},
}

var Votes = Entity{
	Name:   "votes",
	Tables: []string{"votes", "Votes"},
	Fields: map[Field][]string{
		FieldID:          {"Id", "id"},
		FieldVoterID:     {"Voter_id", "Voter_Id", "voter_id"},
		FieldElectionID:  {"Election_id", "Election_Id", "election_id"},
		FieldCandidateID: {"candidate_id", "Candidate_id", "Candidate_Id"},
	},
	Required: []Field{FieldVoterID, FieldElectionID, FieldCandidateID},
}

// Outbox is the service-owned vote_outbox table; admin deletes clear it with
// the voters it references.
var Outbox = Entity{
	Name:   "vote outbox",
	Tables: []string{"vote_outbox"},
	Fields: map[Field][]string{
		FieldID:      {"id"},
		FieldVoterID: {"voter_id"},
	},
	Required: []Field{FieldID, FieldVoterID},
}

// Admins has no fixed table name; pair it with WithPattern for discovery.
var Admins = Entity{
	Name:   "admins",
	Tables: []string{"Admins", "admins", "Admin", "admin"},
	Fields: map[Field][]string{
		FieldID:         {"Id", "id"},
		FieldEmployeeID: {"Employee_Id", "employee_id", "employeeid"},
		FieldPassword:   {"Password", "password", "Pin", "pin", "Secret_PIN", "secret_pin"},
		FieldFullName:   {"Full_Name", "full_name", "name"},
		FieldRole:       {"Role", "role"},
		FieldIsActive:   {"is_active", "Is_active", "active"},
	},
	Required: []Field{FieldID, FieldEmployeeID, FieldPassword},
}
