package main

import (
	"bytes"
	"strings"

	"github.com/abiosoft/ishell"
)

// newShell exposes the command table on an interactive prompt.
func newShell(a *app) *ishell.Shell {
	sh := ishell.New()
	sh.SetPrompt("rmt> ")
	for _, c := range commands {
		c := c
		sh.AddCmd(&ishell.Cmd{
			Name: c.name,
			Help: c.help,
			Func: func(ctx *ishell.Context) {
				var out bytes.Buffer
				err := a.exec(append([]string{c.name}, ctx.Args...), &out)
				if s := strings.TrimRight(out.String(), "\n"); s != "" {
					ctx.Println(s)
				}
				if err != nil {
					ctx.Err(err)
				}
			},
		})
	}
	return sh
}
