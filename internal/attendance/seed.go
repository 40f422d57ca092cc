package attendance

// DemoUsers is the fixed roster the demo ships with.
func DemoUsers() []User {
	return []User{
		{ID: 1, Email: "prof@college.edu", Password: "prof123", Role: RoleProfessor, Name: "Dr. Emmanuel", Department: "Software Engineering"},
		{ID: 2, Email: "student1@college.edu", Password: "stu123", Role: RoleStudent, Name: "Iradukunda Jonathan", StudentID: "SE2023001", Year: "3rd Year"},
		{ID: 3, Email: "student2@college.edu", Password: "stu123", Role: RoleStudent, Name: "HAGENIMANA Samuel", StudentID: "SE2023002", Year: "3rd Year"},
		{ID: 4, Email: "student3@college.edu", Password: "stu123", Role: RoleStudent, Name: "Charlie Brown", StudentID: "SE2023003", Year: "3rd Year"},
	}
}
