/*
Copyright © 2023 the Leaf authors.
This file is part of Leaf.

Leaf is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Leaf is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Leaf.  If not, see <http://www.gnu.org/licenses/>.
*/

// Command leaf is a command-line interface for measuring the exposure of
// physical assets to nearby forest loss.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/decentexposure/leaf/leafutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := leafutil.Execute(ctx); err != nil {
		fmt.Println(err)
		stop()
		os.Exit(1)
	}
}
