package model

// Assignment is either Unassigned or AssignedTo(employeeID). The zero value
// is Unassigned.
type Assignment struct {
	employeeID string
}

func Unassigned() Assignment { return Assignment{} }

func AssignedTo(employeeID string) Assignment { return Assignment{employeeID: employeeID} }

// Employee returns the assigned employee id and true, or "" and false.
func (a Assignment) Employee() (string, bool) {
	return a.employeeID, a.employeeID != ""
}

func (a Assignment) IsAssigned() bool { return a.employeeID != "" }

// Match calls exactly one of the two branches.
func (a Assignment) Match(unassigned func(), assigned func(employeeID string)) {
	if a.employeeID == "" {
		unassigned()
		return
	}
	assigned(a.employeeID)
}

// Ref is the nullable column form used by storage and JSON.
func (a Assignment) Ref() *string {
	if a.employeeID == "" {
		return nil
	}
	id := a.employeeID
	return &id
}

func AssignmentFromRef(ref *string) Assignment {
	if ref == nil || *ref == "" {
		return Unassigned()
	}
	return AssignedTo(*ref)
}
