// genpass hashes a password for use in config/admins.yaml's password_hash
// field.
package main

import (
	"fmt"
	"os"

	"github.com/technosupport/remotehub/internal/auth"
)

func main() {
	password := "password"
	if len(os.Args) > 1 {
		password = os.Args[1]
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		panic(err)
	}
	fmt.Println(hash)
}
