// Copyright 2023 The Appeal Authors.

package appeal_test

import (
	"context"
	"fmt"

	"github.com/appeal-go/appeal"
)

type show struct {
	Verbose bool    `option=v, more detail`
	Limit   int     `option=limit, default=20, max to show`
	Nums    []int   `option=nums, some numbers`
	ID      string  `identifier of value to show`
	F       float64 `name=flo, opt, a float value`
}

func (c *show) Run(ctx context.Context) error {
	fmt.Printf("showing %s, %g\n", c.ID, c.F)
	if c.Verbose {
		fmt.Println("verbosely")
	}
	fmt.Printf("limit = %d\n", c.Limit)
	fmt.Printf("nums = %v\n", c.Nums)
	return nil
}

func Example() {
	app := appeal.New("example", "")
	app.Command("show", &show{}, "show a thing")
	err := app.Run(context.Background(), []string{
		"show", "-v", "--limit", "8", "--nums", "1,2,3", "abc", "3.2"})
	if err != nil {
		fmt.Printf("Error: %v", err)
	}

	// Output:
	// showing abc, 3.2
	// verbosely
	// limit = 8
	// nums = [1 2 3]
}
