package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"schoolchat/internal/api"
	"schoolchat/internal/db"
	"schoolchat/internal/models"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db  *db.DB
	out io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  adduser -email EMAIL -name NAME -role student|teacher|admin - create a user, the password is prompted next")
	fmt.Fprintln(cli.out, "  listusers - print every user")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserCmd.SetOutput(cli.out)
	email := addUserCmd.String("email", "", "The user's email")
	name := addUserCmd.String("name", "", "The user's display name")
	role := addUserCmd.String("role", models.RoleStudent, "student, teacher or admin")
	class := addUserCmd.String("class", "", "Class, for students")
	section := addUserCmd.String("section", "", "Section, for students")

	switch args[1] {
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *email == "" || *name == "" {
			addUserCmd.Usage()
			return errHelp
		}
		if !models.ValidRole(*role) {
			return fmt.Errorf("invalid role %q", *role)
		}
		fmt.Fprint(cli.out, "Enter password:")
		pwd, err := readPasswordFunc(int(syscall.Stdin))
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(models.User{
			Email:   *email,
			Name:    *name,
			Role:    *role,
			Class:   *class,
			Section: *section,
		}, string(pwd))

	case "listusers":
		return cli.listUsers()

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) addUser(user models.User, password string) error {
	hashed, err := api.HashPassword(password)
	if err != nil {
		return err
	}
	user.Password = hashed
	user.IsApproved = true
	if err := cli.db.CreateUser(context.Background(), &user); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created %s %s (%s)\n", user.Role, user.Email, user.ID)
	return nil
}

func (cli *commandLine) listUsers() error {
	users, err := cli.db.ListUsers(context.Background())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tROLE\tCLASS")
	for _, u := range users {
		class := strings.TrimSpace(u.Class + " " + u.Section)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Role, class)
	}
	return w.Flush()
}
