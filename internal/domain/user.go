package domain

type User struct {
	Username     string
	PasswordHash string
	RealName     string
	Phone        string
	Email        string
	IDCard       string
}
